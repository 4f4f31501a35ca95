// Package kvclient is C3: the replicated key-value client that sits
// between the filesystem reconciler and the Raft state machine. It
// tracks a committed version map plus a pending map of requests
// already submitted but not yet committed, enforces the per-kind
// validity rules before a request reaches Raft, and applies committed
// entries back into the version map, notifying subscribers (the
// reconciler) of each change.
//
// A Client never talks to the log directly; it depends only on the
// narrow Proposer and Sender interfaces, so it can be driven by a fake
// in tests exactly as pkg/raftstate is.
package kvclient
