// Package oracle calls the external LLM that classifies emails into
// subscriptions.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sub-zapper/internal/config"
	"github.com/sells-group/sub-zapper/internal/cost"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/pkg/anthropic"
	"github.com/sells-group/sub-zapper/pkg/openai"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// Oracle produces a completion for a system/user prompt pair.
type Oracle interface {
	Complete(ctx context.Context, system, user string) (*Completion, error)
	// CheckCredentials reports a misconfiguration that would make every
	// call fail, without making a request.
	CheckCredentials() error
}

// Completion is the raw text answer plus accounting.
type Completion struct {
	Text    string
	Model   string
	Usage   model.TokenUsage
	CostUSD float64
}

// Request is what a Backend receives for a single call.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
	Structured  bool
}

// Backend is a provider-specific completion API. Backends return
// *UnavailableError for upstream failures.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Client adds pacing, a request timeout and cost logging around a Backend.
type Client struct {
	backend     Backend
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	structured  bool
	timeout     time.Duration
	limiter     *rate.Limiter
	calc        *cost.Calculator
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRequestsPerMinute paces calls. 0 disables pacing.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithStructuredOutput asks backends that support it for schema-constrained JSON.
func WithStructuredOutput(on bool) Option {
	return func(c *Client) { c.structured = on }
}

// WithCalculator sets the pricing used for cost attribution.
func WithCalculator(calc *cost.Calculator) Option {
	return func(c *Client) {
		if calc != nil {
			c.calc = calc
		}
	}
}

// NewClient wraps backend. apiKey is only checked for presence; modelID is the
// fixed model id sent with every request.
func NewClient(backend Backend, apiKey, modelID string, opts ...Option) *Client {
	c := &Client{
		backend:     backend,
		apiKey:      apiKey,
		model:       modelID,
		temperature: 0.1,
		maxTokens:   defaultMaxTokens,
		timeout:     defaultTimeout,
		calc:        cost.NewCalculator(cost.Rates{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// New builds a Client for the configured provider.
func New(cfg config.OracleConfig, calc *cost.Calculator) (*Client, error) {
	var (
		backend Backend
		modelID = cfg.Model
	)
	switch cfg.Provider {
	case "", "openai":
		if modelID == "" {
			modelID = "gpt-4o-mini"
		}
		backend = NewOpenAIBackend(openai.NewClient(cfg.Key, openai.WithBaseURL(cfg.BaseURL), openai.WithModel(modelID)))
	case "anthropic":
		if modelID == "" {
			modelID = "claude-haiku-4-5-20251001"
		}
		backend = NewAnthropicBackend(anthropic.NewClient(cfg.Key,
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithModel(modelID),
			anthropic.WithMaxRetries(0),
		))
	default:
		return nil, eris.Errorf("oracle: unknown provider %q", cfg.Provider)
	}

	return NewClient(backend, cfg.Key, modelID,
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(time.Duration(cfg.TimeoutSecs)*time.Second),
		WithRequestsPerMinute(cfg.RequestsPerMinute),
		WithStructuredOutput(cfg.StructuredOutput),
		WithCalculator(calc),
	), nil
}

// Model returns the model id sent with every request.
func (c *Client) Model() string { return c.model }

// CheckCredentials fails when no API key is configured.
func (c *Client) CheckCredentials() error {
	if c.apiKey == "" {
		return eris.Wrapf(ErrMissingCredential, "oracle: %s", c.backend.Name())
	}
	return nil
}

// Complete sends one classification request. Every failure is returned as
// *UnavailableError. There is no retry.
func (c *Client) Complete(ctx context.Context, system, user string) (*Completion, error) {
	provider := c.backend.Name()
	if c.apiKey == "" {
		return nil, &UnavailableError{Provider: provider, Err: ErrMissingCredential}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &UnavailableError{Provider: provider, Err: eris.Wrap(err, "oracle: rate limit wait")}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	comp, err := c.backend.Complete(callCtx, Request{
		System:      system,
		User:        user,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Structured:  c.structured,
	})
	if err != nil {
		var ue *UnavailableError
		if !errors.As(err, &ue) {
			ue = &UnavailableError{Provider: provider, Err: err}
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			ue.Err = eris.Wrapf(err, "oracle: timed out after %s", c.timeout)
		}
		zap.L().Warn("oracle: call failed",
			zap.String("provider", provider),
			zap.String("model", c.model),
			zap.Int("status", ue.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, ue
	}

	if comp.Model == "" {
		comp.Model = c.model
	}
	comp.CostUSD = c.calc.Tokens(c.model, comp.Usage.InputTokens, comp.Usage.OutputTokens)

	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", comp.Model),
		zap.Int("input_tokens", comp.Usage.InputTokens),
		zap.Int("output_tokens", comp.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", comp.CostUSD),
		zap.Duration("elapsed", time.Since(start)),
	)
	return comp, nil
}
