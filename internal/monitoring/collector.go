package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/store"
)

// Snapshot holds a point-in-time view of run health.
type Snapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`
	Tokens        int     `json:"tokens"`
	Subscriptions int     `json:"subscriptions"`
	FailedBatches int     `json:"failed_batches"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run statistics from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Result != nil {
			snap.CostUSD += r.Result.Stats.CostUSD
			snap.Tokens += r.Result.Stats.Usage.Total()
			snap.Subscriptions += len(r.Result.Subscriptions)
			snap.FailedBatches += r.Result.Stats.FailedBatches
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
