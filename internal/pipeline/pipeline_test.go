package pipeline

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sub-zapper/internal/config"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/oracle"
)

var fixedNow = time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// batchPrompt matches the user prompt of a batch with n emails.
func batchPrompt(n int) any {
	return mock.MatchedBy(func(user string) bool {
		return strings.HasPrefix(user, "Here are "+strconv.Itoa(n)+" emails")
	})
}

func TestRun_EndToEnd_FirstBatchUnavailable(t *testing.T) {
	t.Parallel()

	o := &mockOracle{}
	o.On("CheckCredentials").Return(nil)
	o.On("Complete", mock.Anything, mock.Anything, batchPrompt(10)).
		Return(nil, &oracle.UnavailableError{Provider: "openai", StatusCode: 503, Body: "overloaded"}).Once()
	o.On("Complete", mock.Anything, mock.Anything, batchPrompt(2)).
		Return(&oracle.Completion{
			Text:    "```json\n[{\"name\":\"Acme\",\"type\":\"paid\",\"price\":9.99}]\n```",
			Usage:   model.TokenUsage{InputTokens: 500, OutputTokens: 20},
			CostUSD: 0.0001,
		}, nil).Once()

	p := New(o, WithBatchSize(10), WithClock(fixedClock))
	res, err := p.Run(context.Background(), makeEmails(12))
	require.NoError(t, err)

	assert.Equal(t, 12, res.AnalyzedCount)
	require.Len(t, res.Subscriptions, 1)
	sub := res.Subscriptions[0]
	assert.Equal(t, "Acme", sub.Name)
	assert.Equal(t, model.SubscriptionPaid, sub.Type)
	assert.Equal(t, "2025-03-10", sub.DetectedDate)
	require.NotNil(t, sub.Price)
	assert.InDelta(t, 9.99, *sub.Price, 1e-9)

	assert.Equal(t, 2, res.Stats.Batches)
	assert.Equal(t, 1, res.Stats.FailedBatches)
	assert.Equal(t, 1, res.Stats.Candidates)
	assert.Equal(t, 520, res.Stats.Usage.Total())
	assert.InDelta(t, 0.0001, res.Stats.CostUSD, 1e-12)
	o.AssertExpectations(t)
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	o := &mockOracle{}
	p := New(o)

	for _, emails := range [][]model.EmailRecord{nil, {}} {
		res, err := p.Run(context.Background(), emails)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	o.AssertNotCalled(t, "CheckCredentials")
	o.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_MisconfiguredOracle(t *testing.T) {
	t.Parallel()

	o := &mockOracle{}
	o.On("CheckCredentials").Return(eris.Wrap(oracle.ErrMissingCredential, "oracle: openai"))

	res, err := New(o).Run(context.Background(), makeEmails(3))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleMisconfigured)
	assert.Contains(t, err.Error(), "api key not configured")
	o.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_AllBatchesFail(t *testing.T) {
	t.Parallel()

	o := &mockOracle{}
	o.On("CheckCredentials").Return(nil)
	o.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &oracle.UnavailableError{Provider: "openai", StatusCode: 500})

	res, err := New(o, WithBatchSize(5)).Run(context.Background(), makeEmails(11))
	require.NoError(t, err)
	assert.NotNil(t, res.Subscriptions)
	assert.Empty(t, res.Subscriptions)
	assert.Equal(t, 11, res.AnalyzedCount)
	assert.Equal(t, 3, res.Stats.Batches)
	assert.Equal(t, 3, res.Stats.FailedBatches)
	o.AssertNumberOfCalls(t, "Complete", 3)
}

func TestRun_SoftFailuresAndDedupeAcrossBatches(t *testing.T) {
	t.Parallel()

	responses := []string{
		`[{"name":"Netflix","type":"paid"},{"type":"paid","price":5}]`,
		"Sorry, I cannot comply.",
		`[{"name":"Broken",}]`,
		`{"subscriptions":[{"name":"netflix","type":"paid","price":15.49,"renewalDate":"2025-04-01"},{"name":"Substack","type":"newsletter"}]}`,
	}

	o := &mockOracle{}
	o.On("CheckCredentials").Return(nil)
	for _, r := range responses {
		o.On("Complete", mock.Anything, mock.Anything, mock.Anything).
			Return(&oracle.Completion{Text: r}, nil).Once()
	}

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	p := New(o, WithBatchSize(2), WithClock(fixedClock), WithMetrics(metrics))
	res, err := p.Run(context.Background(), makeEmails(8))
	require.NoError(t, err)

	require.Len(t, res.Subscriptions, 2)
	assert.Equal(t, "netflix", res.Subscriptions[0].Name)
	assert.Equal(t, "2025-04-01", res.Subscriptions[0].RenewalDate)
	assert.Equal(t, "Substack", res.Subscriptions[1].Name)

	assert.Equal(t, 4, res.Stats.Batches)
	assert.Equal(t, 1, res.Stats.FailedBatches)
	assert.Equal(t, 4, res.Stats.Candidates)
	assert.Equal(t, 1, res.Stats.Dropped)
	assert.Equal(t, 1, res.Stats.DuplicatesRemoved)

	expected := `
# HELP subzapper_batches_total Oracle batches processed, by outcome.
# TYPE subzapper_batches_total counter
subzapper_batches_total{outcome="empty"} 1
subzapper_batches_total{outcome="malformed_output"} 1
subzapper_batches_total{outcome="ok"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "subzapper_batches_total"))
}

func TestRun_ContextCancelledBetweenBatches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	o := &mockOracle{}
	o.On("CheckCredentials").Return(nil)
	o.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&oracle.Completion{Text: `[{"name":"A"}]`}, nil).Once()

	res, err := New(o, WithBatchSize(2)).Run(ctx, makeEmails(6))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	o.AssertNumberOfCalls(t, "Complete", 1)
}

func TestRun_PassesPromptToOracle(t *testing.T) {
	t.Parallel()

	emails := makeEmails(1)
	emails[0].UnsubscribeURL = "https://list.example/unsub"
	want := BuildPrompt(emails)

	o := &mockOracle{}
	o.On("CheckCredentials").Return(nil)
	o.On("Complete", mock.Anything, want.System, want.User).
		Return(&oracle.Completion{Text: "[]"}, nil).Once()

	res, err := New(o).Run(context.Background(), emails)
	require.NoError(t, err)
	assert.Empty(t, res.Subscriptions)
	assert.Equal(t, 1, res.AnalyzedCount)
	o.AssertExpectations(t)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	p := NewFromConfig(config.PipelineConfig{BatchSize: 5, MaxBodyChars: 100}, &mockOracle{}, WithClock(fixedClock))
	assert.Equal(t, 5, p.batchSize)
	assert.Equal(t, 100, p.prompts.maxBodyChars)
	assert.Equal(t, fixedNow, p.now())

	p = NewFromConfig(config.PipelineConfig{}, &mockOracle{})
	assert.Equal(t, DefaultBatchSize, p.batchSize)
	assert.Equal(t, DefaultMaxBodyChars, p.prompts.maxBodyChars)
}
