// Package raftstate implements the Follower/Candidate/Leader state
// machine: AppendEntries/RequestVote handlers, leader replication and
// commit advancement, and the role-transition rules of spec.md §4.2.
package raftstate

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/raftlog"
	"github.com/arkestra/ravel/pkg/types"
)

// Role is one of Follower, Candidate, Leader.
type Role string

const (
	Follower  Role = "follower"
	Candidate Role = "candidate"
	Leader    Role = "leader"
)

// TimeoutKind names which timer the controller should (re)start.
type TimeoutKind string

const (
	TimeoutLeader   TimeoutKind = "leader"
	TimeoutElection TimeoutKind = "election"
)

// Handlers is what State depends on: sending RPCs over the transport
// and asking the controller for a fresh timeout. State never touches
// a transport or timer directly (spec.md §9 "Callbacks and dynamic
// dispatch").
type Handlers interface {
	SendAppendEntries(peer string, req AppendEntriesRequest)
	SendAppendEntriesResponse(peer string, resp AppendEntriesResponse)
	SendRequestVote(peer string, req RequestVoteRequest)
	SendRequestVoteResponse(peer string, resp RequestVoteResponse)
	RequestTimeout(kind TimeoutKind)
}

// ConsensusListener is notified, in index order, of every action a
// committed log entry carries (spec.md §9). pkg/kvclient implements
// this.
type ConsensusListener interface {
	OnCommit(action types.Action)
}

type peerState struct {
	nextIndex  uint64
	matchIndex uint64
}

// State is one node's Raft role and volatile state, layered on a
// durable raftlog.Log. It runs exclusively on the daemon's event loop;
// the mutex below guards only against metrics collector reads from
// another goroutine, not against concurrent state transitions.
type State struct {
	mu sync.RWMutex

	id    string
	peers []string

	log      *raftlog.Log
	handlers Handlers
	listener ConsensusListener

	role        Role
	leader      string
	votesGotten map[string]bool
	peerState   map[string]*peerState
	lastApplied uint64

	logger zerolog.Logger
}

// New creates a State for node id, with the given peer ids (excluding
// itself), backed by log and driven by handlers. Committed actions are
// delivered to listener strictly in index order.
func New(id string, peers []string, l *raftlog.Log, handlers Handlers, listener ConsensusListener) *State {
	s := &State{
		id:          id,
		peers:       append([]string(nil), peers...),
		log:         l,
		handlers:    handlers,
		listener:    listener,
		role:        Follower,
		votesGotten: make(map[string]bool),
		peerState:   make(map[string]*peerState),
		lastApplied: 0,
		logger:      log.WithComponent("raftstate"),
	}
	l.OnNewTerm(func(term uint64) {
		s.stepDown(term)
	})
	return s
}

// Role returns the current role.
func (s *State) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.role)
}

// Term returns the current term.
func (s *State) Term() uint64 { return s.log.Term() }

// LastIndex returns the log's last index.
func (s *State) LastIndex() uint64 { return s.log.LastIndex() }

// CommitIndex returns the log's commit index.
func (s *State) CommitIndex() uint64 { return s.log.CommitIndex() }

// PeerCount returns the number of configured peers, excluding self.
func (s *State) PeerCount() int { return len(s.peers) }

// Leader returns the current known leader id, or "" if unknown.
func (s *State) Leader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader
}

func (s *State) majority() int {
	return (len(s.peers)+1)/2 + 1
}

// stepDown unconditionally becomes a follower; called when a higher
// term is observed anywhere (handlers below, or the log's own
// new-term callback when an RPC's term advance is recorded first).
func (s *State) stepDown(term uint64) {
	s.mu.Lock()
	s.role = Follower
	s.votesGotten = make(map[string]bool)
	s.mu.Unlock()
	s.handlers.RequestTimeout(TimeoutElection)
}
