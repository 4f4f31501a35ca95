package raftstate

import "github.com/arkestra/ravel/pkg/raftlog"

// Timeout is called by the controller when the currently outstanding
// timer fires. Its behavior depends on the current role: Follower and
// Candidate both start (or restart) an election; Leader sends a fresh
// round of heartbeats.
func (s *State) Timeout() {
	s.mu.RLock()
	role := s.role
	s.mu.RUnlock()

	switch role {
	case Follower, Candidate:
		s.startElection()
	case Leader:
		s.Heartbeat()
	}
}

func (s *State) startElection() {
	term := s.log.Term() + 1
	if err := s.log.AppendTerm(term); err != nil {
		s.logger.Warn().Msg("failed to persist term advance for election")
		return
	}
	if err := s.log.AppendVote(term, s.id); err != nil {
		s.logger.Warn().Msg("failed to persist self-vote for election")
		return
	}

	s.mu.Lock()
	s.role = Candidate
	s.leader = ""
	s.votesGotten = map[string]bool{s.id: true}
	s.mu.Unlock()

	req := RequestVoteRequest{
		Type:         TypeRequestVote,
		Term:         term,
		CandidateID:  s.id,
		LastLogTerm:  lastLogTerm(s.log),
		LastLogIndex: s.log.LastIndex(),
	}
	for _, peer := range s.peers {
		s.handlers.SendRequestVote(peer, req)
	}

	s.handlers.RequestTimeout(TimeoutElection)
}

func lastLogTerm(l *raftlog.Log) uint64 {
	idx := l.LastIndex()
	if idx == 0 {
		return 0
	}
	e, err := l.Entry(idx)
	if err != nil {
		return 0
	}
	return e.Term
}

// HandleRequestVote processes an incoming RequestVote RPC.
func (s *State) HandleRequestVote(from string, req RequestVoteRequest) {
	currentTerm := s.log.Term()

	if req.Term < currentTerm {
		s.handlers.SendRequestVoteResponse(from, RequestVoteResponse{
			Type: TypeRequestVoteResponse, Term: currentTerm, Granted: false, VoterID: s.id,
		})
		return
	}

	if req.Term > currentTerm {
		if err := s.log.AppendTerm(req.Term); err != nil {
			s.logger.Warn().Msg("failed to persist observed term during vote request")
			return
		}
		currentTerm = req.Term
	}

	ownLastTerm := lastLogTerm(s.log)
	ownLastIndex := s.log.LastIndex()

	upToDate := req.LastLogTerm > ownLastTerm ||
		(req.LastLogTerm == ownLastTerm && req.LastLogIndex >= ownLastIndex)

	lastVote := s.log.LastVote()
	canVote := lastVote == "" || lastVote == req.CandidateID

	granted := canVote && upToDate
	if granted {
		if err := s.log.AppendVote(currentTerm, req.CandidateID); err != nil {
			s.logger.Warn().Msg("failed to persist vote")
			granted = false
		} else {
			s.handlers.RequestTimeout(TimeoutElection)
		}
	}

	s.handlers.SendRequestVoteResponse(from, RequestVoteResponse{
		Type: TypeRequestVoteResponse, Term: s.log.Term(), Granted: granted, VoterID: s.id,
	})
}

// HandleRequestVoteResponse processes a vote reply while this node is
// a Candidate. Responses received outside that role, or for a term
// that no longer matches, are ignored.
func (s *State) HandleRequestVoteResponse(from string, resp RequestVoteResponse) {
	currentTerm := s.log.Term()

	if resp.Term > currentTerm {
		if err := s.log.AppendTerm(resp.Term); err != nil {
			s.logger.Warn().Msg("failed to persist observed term from vote response")
		}
		return
	}

	s.mu.RLock()
	role := s.role
	s.mu.RUnlock()
	if role != Candidate || resp.Term != currentTerm || !resp.Granted {
		return
	}

	s.mu.Lock()
	s.votesGotten[from] = true
	count := len(s.votesGotten)
	s.mu.Unlock()

	if count >= s.majority() {
		s.becomeLeader()
	}
}

func (s *State) becomeLeader() {
	s.mu.Lock()
	if s.role != Candidate {
		s.mu.Unlock()
		return
	}
	s.role = Leader
	s.leader = s.id
	s.peerState = make(map[string]*peerState)
	last := s.log.LastIndex()
	for _, peer := range s.peers {
		s.peerState[peer] = &peerState{nextIndex: last + 1, matchIndex: 0}
	}
	s.mu.Unlock()

	s.Heartbeat()
}
