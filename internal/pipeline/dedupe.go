package pipeline

import "github.com/sells-group/sub-zapper/internal/model"

// Dedupe keeps one record per identity key. Among colliding records the one
// with the strictly higher information score wins; ties keep the first seen.
// Losers are discarded whole, fields are never merged. Output follows the
// order in which keys first appear.
func Dedupe(records []model.SubscriptionRecord) []model.SubscriptionRecord {
	index := make(map[string]int, len(records))
	out := make([]model.SubscriptionRecord, 0, len(records))
	for _, r := range records {
		key := r.IdentityKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, r)
			continue
		}
		if r.InformationScore() > out[i].InformationScore() {
			out[i] = r
		}
	}
	return out
}
