package raftstate

import "github.com/arkestra/ravel/pkg/types"

// WireEntry is the over-the-wire shape of one log entry inside an
// AppendEntries RPC.
type WireEntry struct {
	Term      uint64      `json:"term"`
	Index     uint64      `json:"index"`
	SpawnTerm uint64      `json:"spawn_term"`
	Action    types.Action `json:"action"`
}

// AppendEntriesRequest is the RPC a leader sends to replicate entries
// (or, with an empty Entries slice, a heartbeat).
type AppendEntriesRequest struct {
	Type         string      `json:"type"`
	Term         uint64      `json:"term"`
	LeaderID     string      `json:"leader_id"`
	PrevLogTerm  uint64      `json:"prev_log_term"`
	PrevLogIndex uint64      `json:"prev_log_index"`
	Entries      []WireEntry `json:"entries"`
	LeaderCommit uint64      `json:"leader_commit"`
}

// AppendEntriesResponse is the follower's reply.
type AppendEntriesResponse struct {
	Type             string `json:"type"`
	Term             uint64 `json:"term"`
	Success          bool   `json:"success"`
	FollowerID       string `json:"follower_id"`
	MatchedPrevIndex uint64 `json:"matched_prev_index"`
	MatchedCount     int    `json:"matched_count"`
}

// RequestVoteRequest is the RPC a candidate sends to solicit votes.
type RequestVoteRequest struct {
	Type         string `json:"type"`
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogTerm  uint64 `json:"last_log_term"`
	LastLogIndex uint64 `json:"last_log_index"`
}

// RequestVoteResponse is the voter's reply.
type RequestVoteResponse struct {
	Type       string `json:"type"`
	Term       uint64 `json:"term"`
	Granted    bool   `json:"granted"`
	VoterID    string `json:"voter_id"`
}

const (
	TypeAppendEntries         = "append_entries"
	TypeAppendEntriesResponse = "append_entries_response"
	TypeRequestVote           = "request_vote"
	TypeRequestVoteResponse   = "request_vote_response"
)
