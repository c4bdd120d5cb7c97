// Package runner executes a pipeline run and records it in run history.
package runner

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/pipeline"
	"github.com/sells-group/sub-zapper/internal/store"
)

// Analyzer is satisfied by *pipeline.Pipeline.
type Analyzer interface {
	Run(ctx context.Context, emails []model.EmailRecord) (*model.AnalysisResult, error)
}

// Runner wraps an Analyzer with run bookkeeping. A nil store disables
// persistence; the returned run then has no id.
type Runner struct {
	analyzer Analyzer
	store    store.Store
	metrics  *monitoring.Metrics
}

// New creates a Runner. st and m may be nil.
func New(a Analyzer, st store.Store, m *monitoring.Metrics) *Runner {
	return &Runner{analyzer: a, store: st, metrics: m}
}

// Analyze runs the pipeline over emails under a new run record. Empty input
// is rejected before a run is created. On a fatal pipeline error the run is
// marked failed and the error returned alongside it.
func (r *Runner) Analyze(ctx context.Context, source string, emails []model.EmailRecord) (*model.Run, error) {
	if len(emails) == 0 {
		return nil, pipeline.ErrEmptyInput
	}

	run := &model.Run{Status: model.RunStatusRunning, Source: source, AnalyzedCount: len(emails)}
	if r.store != nil {
		created, err := r.store.CreateRun(ctx, source, len(emails))
		if err != nil {
			return nil, eris.Wrap(err, "runner: create run")
		}
		run = created
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("source", source))

	result, err := r.analyzer.Run(ctx, emails)
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		r.metrics.ObserveRun(model.RunStatusFailed)
		log.Error("runner: run failed", zap.Error(err))
		if r.store != nil && run.ID != "" {
			// The caller's ctx may already be cancelled.
			if ferr := r.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
				log.Warn("runner: record failed run", zap.Error(ferr))
			}
		}
		return run, err
	}

	run.Status = model.RunStatusComplete
	run.Result = result
	r.metrics.ObserveRun(model.RunStatusComplete)
	if r.store != nil && run.ID != "" {
		if err := r.store.CompleteRun(ctx, run.ID, result); err != nil {
			return run, eris.Wrap(err, "runner: complete run")
		}
	}
	log.Info("runner: run complete",
		zap.Int("subscriptions", len(result.Subscriptions)),
		zap.Int("analyzed", result.AnalyzedCount),
	)
	return run, nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, pipeline.ErrEmptyInput)
}
