package raftstate

import "github.com/arkestra/ravel/pkg/raftlog"

// Heartbeat sends an AppendEntries (carrying whatever entries each
// peer is behind on, or empty if caught up) to every peer. Called on
// the leader timer and whenever a fresh round is needed (e.g. right
// after winning an election).
func (s *State) Heartbeat() {
	s.mu.RLock()
	if s.role != Leader {
		s.mu.RUnlock()
		return
	}
	peers := append([]string(nil), s.peers...)
	s.mu.RUnlock()

	for _, peer := range peers {
		s.heartbeatTo(peer)
	}

	s.handlers.RequestTimeout(TimeoutLeader)
}

// heartbeatTo sends one peer's AppendEntries. Two distinct "empty
// heartbeat" branches exist (spec.md §9's known ambiguity): a peer
// whose next_index is exactly last_index+1 is caught up and gets an
// empty entries slice with prev_log_* taken from the real preceding
// entry; a peer whose match_index is still 0 (never successfully
// matched) gets every entry from next_index on, with prev_log_*
// synthesized as the zeroth sentinel (0,0) when next_index <= 1 and
// taken from the real preceding entry otherwise.
func (s *State) heartbeatTo(peer string) {
	s.mu.Lock()
	ps, ok := s.peerState[peer]
	if !ok {
		ps = &peerState{nextIndex: s.log.LastIndex() + 1}
		s.peerState[peer] = ps
	}
	nextIndex := ps.nextIndex
	matchIndex := ps.matchIndex
	s.mu.Unlock()

	last := s.log.LastIndex()
	term := s.log.Term()
	commit := s.log.CommitIndex()

	var req AppendEntriesRequest
	req.Type = TypeAppendEntries
	req.Term = term
	req.LeaderID = s.id
	req.LeaderCommit = commit

	switch {
	case nextIndex == last+1:
		// Caught up: nothing to send, empty heartbeat. prev_log_*
		// describes the real preceding entry.
		req.PrevLogIndex = nextIndex - 1
		req.PrevLogTerm = termAt(s.log, req.PrevLogIndex)
		req.Entries = nil

	case matchIndex == 0:
		// First contact: we've never had this peer confirm a match, so
		// prev_log_* is synthesized from whatever next_index currently
		// is rather than trusted from a prior success. Unlike the
		// caught-up case there may well be entries to send; omitting
		// them here would stall replication indefinitely, so this
		// branch still carries them (see DESIGN.md's notes on this
		// component's heartbeat ambiguity).
		if nextIndex <= 1 {
			req.PrevLogIndex = 0
			req.PrevLogTerm = 0
		} else {
			req.PrevLogIndex = nextIndex - 1
			req.PrevLogTerm = termAt(s.log, req.PrevLogIndex)
		}
		for i := nextIndex; i <= last; i++ {
			e, err := s.log.Entry(i)
			if err != nil {
				s.logger.Warn().Msg("failed to read entry for replication")
				return
			}
			req.Entries = append(req.Entries, WireEntry{
				Term: e.Term, Index: e.Index, SpawnTerm: e.SpawnTerm, Action: e.Action,
			})
		}

	default:
		req.PrevLogIndex = nextIndex - 1
		req.PrevLogTerm = termAt(s.log, req.PrevLogIndex)
		for i := nextIndex; i <= last; i++ {
			e, err := s.log.Entry(i)
			if err != nil {
				s.logger.Warn().Msg("failed to read entry for replication")
				return
			}
			req.Entries = append(req.Entries, WireEntry{
				Term: e.Term, Index: e.Index, SpawnTerm: e.SpawnTerm, Action: e.Action,
			})
		}
	}

	s.handlers.SendAppendEntries(peer, req)
}

func termAt(l *raftlog.Log, index uint64) uint64 {
	if index == 0 {
		return 0
	}
	e, err := l.Entry(index)
	if err != nil {
		return 0
	}
	return e.Term
}

// HandleAppendEntriesResponse processes a follower's reply while this
// node is Leader.
func (s *State) HandleAppendEntriesResponse(from string, resp AppendEntriesResponse) {
	currentTerm := s.log.Term()

	if resp.Term > currentTerm {
		if err := s.log.AppendTerm(resp.Term); err != nil {
			s.logger.Warn().Msg("failed to persist observed term from append response")
		}
		return
	}

	s.mu.RLock()
	role := s.role
	ps, ok := s.peerState[from]
	s.mu.RUnlock()
	if role != Leader || !ok {
		return
	}

	if !resp.Success {
		s.mu.Lock()
		if ps.nextIndex > 1 {
			ps.nextIndex--
		}
		s.mu.Unlock()
		s.heartbeatTo(from)
		return
	}

	s.mu.Lock()
	match := resp.MatchedPrevIndex + uint64(resp.MatchedCount)
	if match > ps.matchIndex {
		ps.matchIndex = match
	}
	ps.nextIndex = ps.matchIndex + 1
	s.mu.Unlock()

	s.CheckCommit()
}

// CheckCommit scans for the largest index N such that a majority of
// match_indices (including the leader's own last_index) are >= N and
// entry(N).term == current_term, and advances commit_index to N.
func (s *State) CheckCommit() {
	s.mu.RLock()
	if s.role != Leader {
		s.mu.RUnlock()
		return
	}
	matches := make([]uint64, 0, len(s.peerState)+1)
	matches = append(matches, s.log.LastIndex())
	for _, ps := range s.peerState {
		matches = append(matches, ps.matchIndex)
	}
	s.mu.RUnlock()

	currentTerm := s.log.Term()
	commit := s.log.CommitIndex()
	majority := s.majority()

	for n := s.log.LastIndex(); n > commit; n-- {
		entry, err := s.log.Entry(n)
		if err != nil || entry.Term != currentTerm {
			continue
		}
		count := 0
		for _, m := range matches {
			if m >= n {
				count++
			}
		}
		if count >= majority {
			if err := s.log.SetCommitIndex(n); err != nil {
				s.logger.Warn().Msg("failed to persist commit advance")
				return
			}
			s.ApplyCommits()
			return
		}
	}
}
