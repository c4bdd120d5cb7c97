package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Candidate is one raw, unvalidated element of the oracle's JSON array.
// Elements that are not objects are kept so the validator can count them.
type Candidate = any

// An unterminated fence runs to the end of the text.
var fenceRe = regexp.MustCompile("(?s)```(?i:json)?[ \t]*\r?\n?(.*?)(?:```|\\z)")

// ParseCandidates extracts the candidate array from raw oracle text.
//
// Fenced content wins over the surrounding text. A bare JSON array is the
// normal shape; an object with a "subscriptions" array is the structured
// output shape. Anything else yields an empty list and a warning. Bracketed
// text that is not valid JSON returns ErrMalformedOutput.
func ParseCandidates(raw string) ([]Candidate, error) {
	text := stripFence(raw)

	switch {
	case strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"):
		var out []Candidate
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return []Candidate{}, eris.Wrap(ErrMalformedOutput, err.Error())
		}
		if out == nil {
			out = []Candidate{}
		}
		return out, nil

	case strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}"):
		var wrapped struct {
			Subscriptions []Candidate `json:"subscriptions"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return []Candidate{}, eris.Wrap(ErrMalformedOutput, err.Error())
		}
		if wrapped.Subscriptions == nil {
			zap.L().Warn("pipeline: oracle object has no subscriptions array",
				zap.String("preview", preview(text)),
			)
			return []Candidate{}, nil
		}
		return wrapped.Subscriptions, nil
	}

	zap.L().Warn("pipeline: oracle output is not a JSON array",
		zap.String("preview", preview(text)),
	)
	return []Candidate{}, nil
}

// stripFence trims raw and, if it contains a fenced code block, returns the
// trimmed content of the first one.
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner
		}
	}
	return text
}

func preview(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
