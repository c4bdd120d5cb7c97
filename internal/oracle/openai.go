package oracle

import (
	"context"
	"errors"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/pkg/openai"
)

// OpenAIBackend calls an OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client openai.Client
}

// NewOpenAIBackend wraps an openai.Client.
func NewOpenAIBackend(client openai.Client) *OpenAIBackend {
	return &OpenAIBackend{client: client}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (*Completion, error) {
	temp := req.Temperature
	chat := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		chat.MaxTokens = &maxTokens
	}
	if req.Structured {
		chat.ResponseFormat = &openai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &openai.JSONSchema{
				Name:   "subscriptions",
				Schema: SubscriptionSchema(),
				Strict: true,
			},
		}
	}

	resp, err := b.client.ChatCompletion(ctx, chat)
	if err != nil {
		ue := &UnavailableError{Provider: b.Name(), Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			ue.StatusCode = apiErr.StatusCode
			ue.Body = apiErr.Body
		}
		return nil, ue
	}

	return &Completion{
		Text:  resp.Content(),
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// SubscriptionSchema is the JSON schema for structured output: an object
// wrapping a "subscriptions" array.
func SubscriptionSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"subscriptions"},
		"properties": map[string]any{
			"subscriptions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "type", "price", "renewalDate", "email", "unsubscribeUrl"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []string{"paid", "free", "newsletter"},
						},
						"price":          map[string]any{"type": []string{"number", "null"}},
						"renewalDate":    nullableString,
						"email":          nullableString,
						"unsubscribeUrl": nullableString,
					},
				},
			},
		},
	}
}
