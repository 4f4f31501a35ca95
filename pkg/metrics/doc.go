/*
Package metrics defines and registers Ravel's Prometheus metrics and
exposes them over HTTP for scraping.

# Categories

  - Raft: current role, term, last/commit index, election count.
  - KV client: request outcomes by kind, live key count.
  - Change transfer: request outcomes by direction, bytes moved.
  - Reconciler: tick duration/count, sync-queue depth, conflict count.

Collector (collector.go) polls these from the live raftstate/kvclient/
reconciler instances on a 15s tick via small Source interfaces, so this
package never imports theirs. Timer (metrics.go) is a tiny stopwatch
helper used at call sites to feed the duration histograms above.

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.ReconciliationDuration)

Handler() returns the promhttp handler to mount on the daemon's metrics
endpoint.
*/
package metrics
