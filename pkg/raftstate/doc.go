/*
Package raftstate implements the Follower/Candidate/Leader state
machine described in spec.md §4.2, layered on a pkg/raftlog.Log.

State depends only on two narrow interfaces (spec.md §9): Handlers to
send RPCs and request timers, and ConsensusListener to deliver
committed actions in index order. It never touches a transport or a
timer directly, and holds no lock across a suspension point — the
whole daemon runs on a single event-loop goroutine (spec.md §5); the
mutex here exists only so pkg/metrics can safely poll Role/Term/
LastIndex/CommitIndex from its own collector goroutine.

Timeout is the controller's single entry point for "the outstanding
timer fired"; HandleAppendEntries/HandleAppendEntriesResponse/
HandleRequestVote/HandleRequestVoteResponse are its entry points for
inbound RPCs dispatched by pkg/controller.
*/
package raftstate
