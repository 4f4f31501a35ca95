package raftstate

import "github.com/arkestra/ravel/pkg/types"

// Propose appends action to the leader's own log as a new entry and
// immediately replicates it to every peer. It is a no-op returning
// ok=false if this node is not currently the leader; pkg/kvclient
// checks Leader()/Role() before calling and forwards to the known
// leader otherwise (spec.md §4.3 "Submission").
func (s *State) Propose(action types.Action) (index uint64, ok bool) {
	s.mu.RLock()
	isLeader := s.role == Leader
	s.mu.RUnlock()
	if !isLeader {
		return 0, false
	}

	term := s.log.Term()
	last := s.log.LastIndex()
	spawnTerm := termAt(s.log, last)
	index = last + 1

	if err := s.log.AppendEntry(term, index, spawnTerm, action); err != nil {
		s.logger.Warn().Msg("failed to append proposed entry")
		return 0, false
	}

	s.Heartbeat()
	return index, true
}
