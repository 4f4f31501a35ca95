package raftlog

import "github.com/arkestra/ravel/pkg/types"

// RecordType tags which of the four journal record kinds a line holds.
type RecordType string

const (
	RecordTerm   RecordType = "term"
	RecordVote   RecordType = "vote"
	RecordEntry  RecordType = "entry"
	RecordCommit RecordType = "commit"
)

// Record is the self-describing on-disk shape of one journal line. Only
// the fields relevant to Type are populated.
type Record struct {
	Type RecordType `json:"type"`

	Term uint64 `json:"term"`

	// Node is set for RecordVote: the node this node voted for.
	Node string `json:"node,omitempty"`

	// Index is set for RecordEntry and RecordCommit.
	Index uint64 `json:"index,omitempty"`

	// SpawnTerm is set for RecordEntry: the term of the entry
	// immediately preceding Index at append time.
	SpawnTerm uint64 `json:"spawn_term,omitempty"`

	// Action is set for RecordEntry: the replicated command.
	Action types.Action `json:"action,omitempty"`
}

// Entry is the in-memory, 1-indexed view of a RecordEntry line.
type Entry struct {
	Term      uint64
	Index     uint64
	SpawnTerm uint64
	Action    types.Action
}
