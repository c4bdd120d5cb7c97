package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/cost"
	"github.com/sells-group/sub-zapper/internal/mailsource"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/oracle"
	"github.com/sells-group/sub-zapper/internal/pipeline"
	"github.com/sells-group/sub-zapper/internal/runner"
	"github.com/sells-group/sub-zapper/internal/store"
)

// appEnv holds the initialized collaborators shared by analyze, fetch and
// serve.
type appEnv struct {
	Store    store.Store // nil when persistence is disabled
	Runner   *runner.Runner
	Source   mailsource.Source
	Metrics  *monitoring.Metrics
	Registry *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// initEnv builds the oracle, pipeline and runner. persist controls whether
// runs are recorded in the store.
func initEnv(ctx context.Context, persist bool) (*appEnv, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	calc := cost.NewCalculator(cfg.Pricing.Rates())
	o, err := oracle.New(cfg.Oracle, calc)
	if err != nil {
		return nil, err
	}

	p := pipeline.NewFromConfig(cfg.Pipeline, o, pipeline.WithMetrics(metrics))

	env := &appEnv{
		Source:   mailsource.NewGmail(cfg.Gmail, mailsource.WithMetrics(metrics)),
		Metrics:  metrics,
		Registry: reg,
	}
	if persist {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}
	env.Runner = runner.New(p, env.Store, metrics)

	zap.L().Debug("environment ready",
		zap.String("provider", cfg.Oracle.Provider),
		zap.String("model", o.Model()),
		zap.Bool("persist", persist),
	)
	return env, nil
}
