package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ravel_nodes_total",
			Help: "Total number of known peers by status",
		},
		[]string{"status"},
	)

	// Raft metrics
	RaftRole = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ravel_raft_role",
			Help: "Whether this node currently holds the given role (1 = current role, 0 = not)",
		},
		[]string{"role"},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_raft_term",
			Help: "Current Raft term",
		},
	)

	RaftLastIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_raft_last_index",
			Help: "Index of the last log entry",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_raft_commit_index",
			Help: "Index of the last committed log entry",
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_raft_elections_total",
			Help: "Total number of elections this node has started",
		},
	)

	// KV client metrics
	KVRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_kv_requests_total",
			Help: "Total number of KV requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	KeysTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_keys_total",
			Help: "Total number of live keys in the version map",
		},
	)

	// Change transfer metrics
	ChangeTransferRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_change_transfer_requests_total",
			Help: "Total number of change-transfer requests by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	ChangeTransferBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_change_transfer_bytes_total",
			Help: "Total number of blob bytes transferred between peers",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ravel_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_reconciliation_cycles_total",
			Help: "Total number of reconciliation ticks completed",
		},
	)

	SyncQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_sync_queue_depth",
			Help: "Total number of pending mutations across all sync-cache entries",
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_conflicts_total",
			Help: "Total number of conflict-recovery renames performed",
		},
	)

	// Raft operation latency
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ravel_raft_apply_duration_seconds",
			Help:    "Time taken to append a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ravel_raft_commit_duration_seconds",
			Help:    "Time from append to commit for a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RaftRole)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftLastIndex)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftElectionsTotal)
	prometheus.MustRegister(KVRequestsTotal)
	prometheus.MustRegister(KeysTotal)
	prometheus.MustRegister(ChangeTransferRequestsTotal)
	prometheus.MustRegister(ChangeTransferBytesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(SyncQueueDepth)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
