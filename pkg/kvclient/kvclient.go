// Package kvclient implements the replicated key-value client layered
// on committed Raft entries: a version map keyed by path, a pending
// map of requests already submitted but not yet committed, and the
// validity rules for Add/Update/Delete/Rename (spec.md §4.3).
package kvclient

import (
	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/types"
)

// Proposer is the slice of pkg/raftstate.State a Client depends on: it
// never touches the log or the transport directly.
type Proposer interface {
	Role() string
	Leader() string
	Propose(action types.Action) (index uint64, ok bool)
}

// Sender is the slice of pkg/transport.Transport a Client depends on
// to forward a request to the known leader.
type Sender interface {
	Send(peerID string, env types.Envelope) error
}

// CommitListener is notified of every action a committed entry
// applies to the version map. pkg/reconciler implements this.
type CommitListener interface {
	OnKVCommit(action types.Action)
}

type pendingEntry struct {
	exists  bool
	version string
	origin  string
}

// Client is one node's view of the replicated key-value store.
type Client struct {
	nodeID   string
	proposer Proposer
	sender   Sender

	versionMap map[string]types.VersionEntry
	pending    map[string]pendingEntry

	listeners []CommitListener

	logger zerolog.Logger
}

// New creates a Client for nodeID, driven by proposer (the local Raft
// state machine) and sender (the transport, for forwarding to a
// remote leader).
func New(nodeID string, proposer Proposer, sender Sender) *Client {
	return &Client{
		nodeID:     nodeID,
		proposer:   proposer,
		sender:     sender,
		versionMap: make(map[string]types.VersionEntry),
		pending:    make(map[string]pendingEntry),
		logger:     log.WithComponent("kvclient"),
	}
}

// Subscribe registers a listener for commit notifications. Ordering
// among multiple listeners is registration order; pkg/reconciler is
// the sole subscriber in this daemon.
func (c *Client) Subscribe(listener CommitListener) {
	c.listeners = append(c.listeners, listener)
}

// KeyCount returns the number of live keys in the version map, for
// pkg/metrics.
func (c *Client) KeyCount() int { return len(c.versionMap) }

// Lookup returns the current committed version of key, if any.
func (c *Client) Lookup(key string) (types.VersionEntry, bool) {
	v, ok := c.versionMap[key]
	return v, ok
}

// current resolves the tentative state of key: the pending
// submission's target if one is in flight, else the committed version.
func (c *Client) current(key string) (version, origin string, exists bool) {
	if p, ok := c.pending[key]; ok {
		return p.version, p.origin, p.exists
	}
	if v, ok := c.versionMap[key]; ok {
		return v.Version, v.Origin, true
	}
	return "", "", false
}

// Outcome classifies a request against the version+pending maps.
type Outcome int

const (
	Invalid Outcome = iota
	Done
	Valid
)

// checkValidity implements the per-kind table in spec.md §4.3.
func (c *Client) checkValidity(a types.Action) Outcome {
	switch a.Kind {
	case types.ActionAdd:
		_, _, exists := c.current(a.Key)
		if !exists {
			return Valid
		}
		cur, _, _ := c.current(a.Key)
		if cur == a.Version {
			return Done
		}
		return Invalid

	case types.ActionUpdate:
		cur, _, exists := c.current(a.Key)
		if !exists {
			return Invalid
		}
		if cur == a.Version {
			return Done
		}
		if cur == a.OldVersion {
			return Valid
		}
		return Invalid

	case types.ActionDelete:
		cur, _, exists := c.current(a.Key)
		if !exists {
			return Done
		}
		if cur == a.Version {
			return Valid
		}
		return Invalid

	case types.ActionRename:
		fromVer, _, fromExists := c.current(a.Key)
		toVer, _, toExists := c.current(a.NewKey)
		if !fromExists && toExists && toVer == a.Version {
			return Done
		}
		if fromExists && fromVer == a.Version && !toExists {
			return Valid
		}
		return Invalid

	default:
		return Invalid
	}
}
