package raftstate

// HandleAppendEntries processes an incoming AppendEntries RPC
// (spec.md §4.2). A reply is sent to from in every case except a
// failure to persist a newly observed term, which returns silently.
func (s *State) HandleAppendEntries(from string, req AppendEntriesRequest) {
	currentTerm := s.log.Term()

	if req.Term < currentTerm {
		s.handlers.SendAppendEntriesResponse(from, AppendEntriesResponse{
			Type: TypeAppendEntriesResponse, Term: currentTerm, Success: false, FollowerID: s.id,
		})
		return
	}

	if req.Term > currentTerm {
		if err := s.log.AppendTerm(req.Term); err != nil {
			s.logger.Warn().Msg("failed to persist observed term during append entries")
			return
		}
		currentTerm = req.Term
	}

	s.mu.Lock()
	s.role = Follower
	s.leader = req.LeaderID
	s.mu.Unlock()
	s.handlers.RequestTimeout(TimeoutElection)

	if !s.log.Match(req.PrevLogTerm, req.PrevLogIndex) {
		s.handlers.SendAppendEntriesResponse(from, AppendEntriesResponse{
			Type: TypeAppendEntriesResponse, Term: currentTerm, Success: false, FollowerID: s.id,
		})
		return
	}

	prevTerm := req.PrevLogTerm
	for k, e := range req.Entries {
		spawnTerm := prevTerm
		if k > 0 {
			spawnTerm = req.Entries[k-1].Term
		}
		index := req.PrevLogIndex + uint64(k) + 1
		if err := s.log.AppendEntry(e.Term, index, spawnTerm, e.Action); err != nil {
			s.logger.Warn().Msg("failed to append replicated entry")
			s.handlers.SendAppendEntriesResponse(from, AppendEntriesResponse{
				Type: TypeAppendEntriesResponse, Term: currentTerm, Success: false, FollowerID: s.id,
			})
			return
		}
	}

	if req.LeaderCommit > s.log.CommitIndex() {
		newCommit := req.LeaderCommit
		if s.log.LastIndex() < newCommit {
			newCommit = s.log.LastIndex()
		}
		if err := s.log.SetCommitIndex(newCommit); err != nil {
			s.logger.Warn().Msg("failed to persist commit index advance")
		}
		s.ApplyCommits()
	}

	s.handlers.SendAppendEntriesResponse(from, AppendEntriesResponse{
		Type:             TypeAppendEntriesResponse,
		Term:             currentTerm,
		Success:          true,
		FollowerID:       s.id,
		MatchedPrevIndex: req.PrevLogIndex,
		MatchedCount:     len(req.Entries),
	})
}

// ApplyCommits invokes the commit listener, strictly in index order,
// for every entry between last_applied and the log's commit index.
func (s *State) ApplyCommits() {
	s.mu.Lock()
	from := s.lastApplied + 1
	to := s.log.CommitIndex()
	s.mu.Unlock()

	for i := from; i <= to; i++ {
		entry, err := s.log.Entry(i)
		if err != nil {
			s.logger.Warn().Msg("commit index refers to missing entry")
			return
		}
		if s.listener != nil {
			s.listener.OnCommit(entry.Action)
		}
		s.mu.Lock()
		s.lastApplied = i
		s.mu.Unlock()
	}
}
