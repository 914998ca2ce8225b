package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "amm_swap"

// Metrics holds every Prometheus collector of the client.
type Metrics struct {
	// --- Read path ---
	QuotesTotal   *prometheus.CounterVec
	QuoteDuration *prometheus.HistogramVec
	StaleQuotes   prometheus.Counter

	// --- Write path ---
	TransactionsTotal *prometheus.CounterVec
	ApprovalsTotal    *prometheus.CounterVec

	// --- Pools ---
	PoolSnapshotsTotal *prometheus.CounterVec
	PoolTVL            *prometheus.GaugeVec
	PoolAPR            *prometheus.GaugeVec

	// --- Background work ---
	TaskRunsTotal *prometheus.CounterVec
	ActiveTasks   prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		QuotesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Router quotes requested, labeled by direction and outcome (ok, unavailable, failed, passthrough).",
		}, []string{"direction", "status"}),

		QuoteDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_duration_seconds",
			Help:      "Latency of getAmountsOut / getAmountsIn calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),

		StaleQuotes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_stale_quotes_total",
			Help:      "Quote responses discarded because the form changed while they were in flight.",
		}),

		TransactionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Write-path actions, labeled by action and terminal outcome.",
		}, []string{"action", "outcome"}),

		ApprovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Allowance checks, labeled by whether an approval had to be sent.",
		}, []string{"result"}),

		PoolSnapshotsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_snapshots_total",
			Help:      "Pool statistics snapshots, labeled ok or degraded.",
		}, []string{"status"}),

		PoolTVL: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_tvl_usd",
			Help:      "Last computed total value locked per pair.",
		}, []string{"pair"}),

		PoolAPR: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_apr_percent",
			Help:      "Last computed fee APR per pair.",
		}, []string{"pair"}),

		TaskRunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Periodic task executions, labeled by task kind.",
		}, []string{"kind"}),

		ActiveTasks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_active_tasks",
			Help:      "Number of periodic tasks currently scheduled.",
		}),
	}
}

// Noop returns collectors registered on a private registry, for callers
// that do not export metrics.
func Noop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
