package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/config"
)

// Checker periodically refreshes the run-health gauges and warns when the
// failure rate crosses the configured threshold.
type Checker struct {
	collector *Collector
	metrics   *Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates a background checker. metrics may be nil.
func NewChecker(collector *Collector, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting run health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.lookback()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot, publishes it and reports whether the failure
// rate is over threshold.
func (c *Checker) Check(ctx context.Context) (*Snapshot, bool) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.lookback())
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil, false
	}
	c.metrics.ObserveSnapshot(snap)

	threshold := c.cfg.FailureRateThreshold
	if threshold <= 0 || snap.RunsFailed == 0 || snap.FailRate < threshold {
		log.Debug("monitoring: run health ok",
			zap.Int("runs", snap.RunsTotal),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return snap, false
	}

	log.Warn("monitoring: run failure rate above threshold",
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("threshold", threshold),
		zap.Int("runs_failed", snap.RunsFailed),
		zap.Int("runs_total", snap.RunsTotal),
	)
	return snap, true
}

func (c *Checker) lookback() int {
	if c.cfg.LookbackWindowHours <= 0 {
		return 24
	}
	return c.cfg.LookbackWindowHours
}
