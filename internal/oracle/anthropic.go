package oracle

import (
	"context"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/pkg/anthropic"
)

// AnthropicBackend calls the Anthropic Messages API. It has no structured
// output mode; the response parser handles its free-form answers.
type AnthropicBackend struct {
	client anthropic.Client
}

// NewAnthropicBackend wraps an anthropic.Client.
func NewAnthropicBackend(client anthropic.Client) *AnthropicBackend {
	return &AnthropicBackend{client: client}
}

// Name implements Backend.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Complete implements Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (*Completion, error) {
	temp := req.Temperature
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, &UnavailableError{
			Provider:   b.Name(),
			StatusCode: anthropic.StatusCode(err),
			Body:       anthropic.ErrorBody(err),
			Err:        err,
		}
	}

	return &Completion{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
