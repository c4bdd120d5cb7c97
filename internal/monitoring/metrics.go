package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/sub-zapper/internal/model"
)

const namespace = "subzapper"

// Batch outcomes recorded by ObserveBatch.
const (
	BatchOK          = "ok"
	BatchEmpty       = "empty"
	BatchUnavailable = "oracle_unavailable"
	BatchMalformed   = "malformed_output"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	batches        *prometheus.CounterVec
	subscriptions  *prometheus.CounterVec
	dropped        prometheus.Counter
	runs           *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	costUSD        prometheus.Counter
	runDuration    prometheus.Histogram
	emailsFetched  prometheus.Counter
	recentRuns     *prometheus.GaugeVec
	recentFailRate prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Oracle batches processed, by outcome.",
		}, []string{"outcome"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_detected_total",
			Help:      "Deduplicated subscriptions returned, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Oracle candidates rejected during validation.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Analysis runs, by final status.",
		}, []string{"status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Oracle tokens consumed, by direction.",
		}, []string{"direction"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_cost_usd_total",
			Help:      "Estimated oracle spend in USD.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		emailsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_fetched_total",
			Help:      "Emails fetched from the mail source.",
		}),
		recentRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_runs",
			Help:      "Stored runs within the lookback window, by status.",
		}, []string{"status"}),
		recentFailRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_run_fail_rate",
			Help:      "Failed / finished runs within the lookback window.",
		}),
	}
	reg.MustRegister(
		m.batches, m.subscriptions, m.dropped, m.runs, m.tokens,
		m.costUSD, m.runDuration, m.emailsFetched, m.recentRuns, m.recentFailRate,
	)
	return m
}

// ObserveBatch records one batch outcome.
func (m *Metrics) ObserveBatch(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

// ObserveResult records a finished pipeline run.
func (m *Metrics) ObserveResult(res *model.AnalysisResult, elapsed time.Duration) {
	if m == nil || res == nil {
		return
	}
	for _, s := range res.Subscriptions {
		m.subscriptions.WithLabelValues(string(s.Type)).Inc()
	}
	m.dropped.Add(float64(res.Stats.Dropped))
	m.tokens.WithLabelValues("input").Add(float64(res.Stats.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(res.Stats.Usage.OutputTokens))
	m.costUSD.Add(res.Stats.CostUSD)
	m.runDuration.Observe(elapsed.Seconds())
}

// ObserveRun records a run reaching a final status.
func (m *Metrics) ObserveRun(status model.RunStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

// ObserveFetched records emails returned by the mail source.
func (m *Metrics) ObserveFetched(n int) {
	if m == nil {
		return
	}
	m.emailsFetched.Add(float64(n))
}

// ObserveSnapshot publishes a collected snapshot as gauges.
func (m *Metrics) ObserveSnapshot(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.recentRuns.WithLabelValues(string(model.RunStatusComplete)).Set(float64(snap.RunsComplete))
	m.recentRuns.WithLabelValues(string(model.RunStatusFailed)).Set(float64(snap.RunsFailed))
	m.recentRuns.WithLabelValues(string(model.RunStatusRunning)).Set(float64(snap.RunsRunning))
	m.recentFailRate.Set(snap.FailRate)
}
