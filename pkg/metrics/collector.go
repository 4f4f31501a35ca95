package metrics

import "time"

// RaftSource is the minimal view of a raft state machine the collector
// polls. pkg/raftstate's State satisfies this.
type RaftSource interface {
	Role() string
	Term() uint64
	LastIndex() uint64
	CommitIndex() uint64
	PeerCount() int
}

// KVSource is the minimal view of the replicated KV client the
// collector polls. pkg/kvclient's Client satisfies this.
type KVSource interface {
	KeyCount() int
}

// ReconcilerSource is the minimal view of the filesystem reconciler the
// collector polls. pkg/reconciler's Reconciler satisfies this.
type ReconcilerSource interface {
	SyncQueueDepth() int
}

// Collector periodically samples the daemon's live components into the
// registered gauges. It holds no domain logic of its own; each Source
// interface keeps it decoupled from the concrete package so pkg/metrics
// never imports pkg/raftstate/pkg/kvclient/pkg/reconciler directly.
type Collector struct {
	raft       RaftSource
	kv         KVSource
	reconciler ReconcilerSource
	stopCh     chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(raft RaftSource, kv KVSource, reconciler ReconcilerSource) *Collector {
	return &Collector{
		raft:       raft,
		kv:         kv,
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRaftMetrics()
	c.collectKVMetrics()
	c.collectReconcilerMetrics()
}

var roles = []string{"follower", "candidate", "leader"}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	current := c.raft.Role()
	for _, role := range roles {
		if role == current {
			RaftRole.WithLabelValues(role).Set(1)
		} else {
			RaftRole.WithLabelValues(role).Set(0)
		}
	}

	RaftTerm.Set(float64(c.raft.Term()))
	RaftLastIndex.Set(float64(c.raft.LastIndex()))
	RaftCommitIndex.Set(float64(c.raft.CommitIndex()))
	NodesTotal.WithLabelValues("configured").Set(float64(c.raft.PeerCount()))
}

func (c *Collector) collectKVMetrics() {
	if c.kv == nil {
		return
	}
	KeysTotal.Set(float64(c.kv.KeyCount()))
}

func (c *Collector) collectReconcilerMetrics() {
	if c.reconciler == nil {
		return
	}
	SyncQueueDepth.Set(float64(c.reconciler.SyncQueueDepth()))
}
