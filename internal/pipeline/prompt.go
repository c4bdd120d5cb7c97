package pipeline

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/sells-group/sub-zapper/internal/model"
)

// DefaultMaxBodyChars caps each email body included in a prompt.
const DefaultMaxBodyChars = 8000

const systemPrompt = `You are a subscription detection system. Analyze the provided emails and extract any information about subscriptions, newsletters or paid services. For each detected subscription, output:

- name: Company or service name
- type: "paid", "free" or "newsletter"
- price: Monthly price (if available, number only without currency symbol)
- renewalDate: When it needs to be renewed (if available, in YYYY-MM-DD format)
- email: The email address associated with the subscription (if available)
- unsubscribeUrl: URL to unsubscribe

Finding the unsubscribe link:
1. If an email has an "unsubscribeUrl" field, it came from the List-Unsubscribe header. Use it as is and prefer it over any link in the body.
2. Otherwise look at the footer of the email body, where unsubscribe links usually are.
3. Look for phrases like "unsubscribe", "opt-out", "manage preferences", "email preferences" or "click here to unsubscribe".
4. Extract the full URL from the href attribute of the matching link.
5. Prefer direct unsubscribe links over preference management links.

Only include subscriptions where you are confident there is an actual subscription, service or newsletter. Respond with ONLY a JSON array, each item a single subscription. No explanations, prose or notes outside the JSON.`

// Prompt is the system/user message pair for one batch.
type Prompt struct {
	System string
	User   string
}

// promptEmail is the subset of an email the oracle sees.
type promptEmail struct {
	Subject        string `json:"subject"`
	From           string `json:"from"`
	Snippet        string `json:"snippet"`
	Date           string `json:"date"`
	UnsubscribeURL string `json:"unsubscribeUrl,omitempty"`
	FullBody       string `json:"fullBody,omitempty"`
}

// PromptBuilder renders batches into prompts.
type PromptBuilder struct {
	maxBodyChars int
}

// NewPromptBuilder returns a builder that truncates bodies to maxBodyChars
// runes. maxBodyChars <= 0 uses DefaultMaxBodyChars.
func NewPromptBuilder(maxBodyChars int) PromptBuilder {
	if maxBodyChars <= 0 {
		maxBodyChars = DefaultMaxBodyChars
	}
	return PromptBuilder{maxBodyChars: maxBodyChars}
}

// BuildPrompt renders batch with the default body limit.
func BuildPrompt(batch []model.EmailRecord) Prompt {
	return NewPromptBuilder(DefaultMaxBodyChars).Build(batch)
}

// Build renders batch. Missing optional fields are omitted from the payload.
func (b PromptBuilder) Build(batch []model.EmailRecord) Prompt {
	summaries := make([]promptEmail, len(batch))
	for i, e := range batch {
		summaries[i] = promptEmail{
			Subject:        e.Subject,
			From:           e.From,
			Snippet:        e.Snippet,
			Date:           e.Date,
			UnsubscribeURL: e.UnsubscribeURL,
			FullBody:       truncateRunes(e.FullBody, b.maxBodyChars),
		}
	}

	// A slice of plain string fields always marshals.
	payload, _ := json.Marshal(summaries)

	return Prompt{
		System: systemPrompt,
		User: fmt.Sprintf(
			"Here are %d emails to analyze for potential subscriptions, newsletters or paid services. Pay special attention to unsubscribe links in the email footers: %s",
			len(batch), payload,
		),
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
