// Package pipeline turns email records into deduplicated subscription
// records by batching them through the classification oracle.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/config"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/oracle"
)

// Pipeline runs the batch → prompt → oracle → parse → validate loop and
// deduplicates the accumulated records. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	oracle    oracle.Oracle
	batchSize int
	prompts   PromptBuilder
	now       func() time.Time
	metrics   *monitoring.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the number of emails per oracle request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxBodyChars caps the email body length sent to the oracle.
func WithMaxBodyChars(n int) Option {
	return func(p *Pipeline) { p.prompts = NewPromptBuilder(n) }
}

// WithClock overrides time.Now, which determines detectedDate.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics records batch and run metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline backed by o.
func New(o oracle.Oracle, opts ...Option) *Pipeline {
	p := &Pipeline{
		oracle:    o,
		batchSize: DefaultBatchSize,
		prompts:   NewPromptBuilder(DefaultMaxBodyChars),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a Pipeline using the pipeline section of the config.
func NewFromConfig(cfg config.PipelineConfig, o oracle.Oracle, opts ...Option) *Pipeline {
	base := []Option{WithBatchSize(cfg.BatchSize), WithMaxBodyChars(cfg.MaxBodyChars)}
	return New(o, append(base, opts...)...)
}

// batchResult is what one batch contributes to a run.
type batchResult struct {
	records    []model.SubscriptionRecord
	candidates int
	dropped    int
	usage      model.TokenUsage
	costUSD    float64
	failed     bool
}

// Run analyzes emails. Per-batch oracle failures and unusable output are
// logged and skipped; only empty input, a misconfigured oracle and ctx
// cancellation return an error. AnalyzedCount always equals len(emails).
func (p *Pipeline) Run(ctx context.Context, emails []model.EmailRecord) (*model.AnalysisResult, error) {
	if len(emails) == 0 {
		return nil, ErrEmptyInput
	}
	if err := p.oracle.CheckCredentials(); err != nil {
		return nil, eris.Wrap(ErrOracleMisconfigured, err.Error())
	}

	start := p.now()
	runDate := start.Format(model.RenewalDateLayout)
	total := BatchCount(len(emails), p.batchSize)

	log := zap.L().With(zap.Int("emails", len(emails)), zap.Int("batches", total))
	log.Info("pipeline: starting analysis", zap.Int("batch_size", p.batchSize))

	var (
		all   []model.SubscriptionRecord
		stats model.RunStats
	)
	for n, batch := range Batches(emails, p.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "pipeline: cancelled before batch %d", n)
		}

		br := p.runBatch(ctx, n, batch, runDate)
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "pipeline: cancelled during batch %d", n)
		}

		stats.Batches++
		stats.Candidates += br.candidates
		stats.Dropped += br.dropped
		stats.Usage.Add(br.usage)
		stats.CostUSD += br.costUSD
		if br.failed {
			stats.FailedBatches++
		}
		all = append(all, br.records...)
	}

	subs := Dedupe(all)
	stats.DuplicatesRemoved = len(all) - len(subs)
	elapsed := p.now().Sub(start)
	stats.DurationMs = elapsed.Milliseconds()

	result := &model.AnalysisResult{
		Subscriptions: subs,
		AnalyzedCount: len(emails),
		Stats:         stats,
	}
	p.metrics.ObserveResult(result, elapsed)

	summary := model.Summarize(subs)
	log.Info("pipeline: analysis complete",
		zap.Int("subscriptions", len(subs)),
		zap.Int("paid", summary.ByType[model.SubscriptionPaid]),
		zap.Int("free", summary.ByType[model.SubscriptionFree]),
		zap.Int("newsletter", summary.ByType[model.SubscriptionNewsletter]),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Int("duplicates_removed", stats.DuplicatesRemoved),
		zap.Int("dropped", stats.Dropped),
		zap.Float64("cost_usd", stats.CostUSD),
	)
	return result, nil
}

func (p *Pipeline) runBatch(ctx context.Context, n int, batch []model.EmailRecord, runDate string) batchResult {
	log := zap.L().With(zap.Int("batch", n), zap.Int("size", len(batch)))
	log.Debug("pipeline: processing batch")

	prompt := p.prompts.Build(batch)
	comp, err := p.oracle.Complete(ctx, prompt.System, prompt.User)
	if err != nil {
		log.Warn("pipeline: oracle call failed, skipping batch", zap.Error(err))
		p.metrics.ObserveBatch(monitoring.BatchUnavailable)
		return batchResult{failed: true}
	}

	br := batchResult{usage: comp.Usage, costUSD: comp.CostUSD}

	candidates, err := ParseCandidates(comp.Text)
	if err != nil {
		log.Warn("pipeline: malformed oracle output, skipping batch", zap.Error(err))
		p.metrics.ObserveBatch(monitoring.BatchMalformed)
		br.failed = true
		return br
	}
	if len(candidates) == 0 {
		log.Warn("pipeline: batch produced no candidates")
		p.metrics.ObserveBatch(monitoring.BatchEmpty)
		return br
	}

	br.candidates = len(candidates)
	br.records, br.dropped = validate(candidates, runDate)
	p.metrics.ObserveBatch(monitoring.BatchOK)

	log.Info("pipeline: batch complete",
		zap.Int("candidates", br.candidates),
		zap.Int("records", len(br.records)),
		zap.Int("dropped", br.dropped),
	)
	return br
}
