package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/model"
)

// Validate turns raw candidates into subscription records. Candidates that
// are not objects or have no name are dropped. Order is preserved and every
// record gets a fresh id and detectedDate = runDate.
func Validate(candidates []Candidate, runDate string) []model.SubscriptionRecord {
	out, _ := validate(candidates, runDate)
	return out
}

// validate is Validate plus the number of dropped candidates.
func validate(candidates []Candidate, runDate string) ([]model.SubscriptionRecord, int) {
	out := make([]model.SubscriptionRecord, 0, len(candidates))
	dropped := 0
	for i, c := range candidates {
		obj, ok := c.(map[string]any)
		if !ok {
			dropped++
			zap.L().Debug("pipeline: dropped non-object candidate", zap.Int("index", i))
			continue
		}

		name := strings.TrimSpace(stringField(obj, "name"))
		if name == "" {
			dropped++
			zap.L().Debug("pipeline: dropped candidate without name", zap.Int("index", i))
			continue
		}

		typ, _ := obj["type"].(string)
		out = append(out, model.SubscriptionRecord{
			ID:             uuid.NewString(),
			Name:           name,
			Type:           model.ParseSubscriptionType(typ),
			Price:          coercePrice(obj["price"]),
			RenewalDate:    stringField(obj, "renewalDate"),
			Email:          stringField(obj, "email"),
			UnsubscribeURL: stringField(obj, "unsubscribeUrl"),
			DetectedDate:   runDate,
		})
	}
	return out, dropped
}

// stringField returns the string at key unchanged, or "" when absent or not
// a string.
func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

var (
	priceReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", " ", "")

	// 1,299 or 1,299.00
	groupedComma = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	// 4,99
	decimalComma = regexp.MustCompile(`^\d+,\d{1,2}$`)
	// 1.299,00
	groupedDot = regexp.MustCompile(`^\d{1,3}(\.\d{3})+,\d{1,2}$`)
)

// normalizeSeparators rewrites s to use '.' as the only decimal separator.
// Commas are accepted as thousands grouping or as a one or two digit decimal
// part; any other comma makes the price ambiguous and the result is not ok.
func normalizeSeparators(s string) (string, bool) {
	switch {
	case !strings.Contains(s, ","):
		return s, true
	case groupedComma.MatchString(s):
		return strings.ReplaceAll(s, ",", ""), true
	case decimalComma.MatchString(s):
		return strings.Replace(s, ",", ".", 1), true
	case groupedDot.MatchString(s):
		return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1), true
	}
	return "", false
}

// coercePrice accepts JSON numbers and numeric strings like "$9.99",
// "1,299.00" or "€4,99". Negative, non-finite and unparseable values are
// omitted.
func coercePrice(v any) *float64 {
	var f float64
	switch p := v.(type) {
	case float64:
		f = p
	case int:
		f = float64(p)
	case int64:
		f = float64(p)
	case string:
		s, ok := normalizeSeparators(priceReplacer.Replace(strings.TrimSpace(p)))
		if !ok || s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}
