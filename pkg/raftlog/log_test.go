package raftlog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/arkestra/ravel/pkg/types"
)

func openTemp(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func addAction(key, version string) types.Action {
	return types.Action{Kind: types.ActionAdd, From: "foo", Key: key, Version: version}
}

func TestAppendEntryMonotonic(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendEntry(1, 1, 0, addAction("a", "1")); err != nil {
		t.Fatalf("AppendEntry 1: %v", err)
	}
	if err := l.AppendEntry(1, 2, 1, addAction("b", "1")); err != nil {
		t.Fatalf("AppendEntry 2: %v", err)
	}

	if l.LastIndex() != 2 {
		t.Fatalf("LastIndex = %d, want 2", l.LastIndex())
	}
	if l.Term() != 1 {
		t.Fatalf("Term = %d, want 1", l.Term())
	}

	if err := l.SetCommitIndex(1); err != nil {
		t.Fatalf("SetCommitIndex: %v", err)
	}
	if err := l.SetCommitIndex(2); err != nil {
		t.Fatalf("SetCommitIndex: %v", err)
	}
	if l.CommitIndex() != 2 {
		t.Fatalf("CommitIndex = %d, want 2", l.CommitIndex())
	}
}

func TestAppendEntryIndexJumpRejected(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendEntry(1, 2, 0, addAction("a", "1")); !errors.Is(err, ErrIndexJump) {
		t.Fatalf("err = %v, want ErrIndexJump", err)
	}
	if l.LastIndex() != 0 {
		t.Fatalf("LastIndex = %d, want 0 (no mutation on failure)", l.LastIndex())
	}
}

func TestCommitRegressionRejected(t *testing.T) {
	l := openTemp(t)

	if err := l.SetCommitIndex(3); err != nil {
		t.Fatalf("SetCommitIndex: %v", err)
	}
	if err := l.SetCommitIndex(1); !errors.Is(err, ErrCommitRegression) {
		t.Fatalf("err = %v, want ErrCommitRegression", err)
	}
	if l.CommitIndex() != 3 {
		t.Fatalf("CommitIndex regressed to %d", l.CommitIndex())
	}
}

func TestVoteUniqueness(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendVote(1, "node-a"); err != nil {
		t.Fatalf("AppendVote node-a: %v", err)
	}
	if err := l.AppendVote(1, "node-a"); err != nil {
		t.Fatalf("duplicate AppendVote for same node should be idempotent: %v", err)
	}
	if err := l.AppendVote(1, "node-b"); !errors.Is(err, ErrVoteConflict) {
		t.Fatalf("err = %v, want ErrVoteConflict", err)
	}
	if l.LastVote() != "node-a" {
		t.Fatalf("LastVote = %q, want node-a", l.LastVote())
	}
}

func TestVoteClearedOnNewTerm(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendVote(1, "node-a"); err != nil {
		t.Fatalf("AppendVote: %v", err)
	}
	if err := l.AppendTerm(2); err != nil {
		t.Fatalf("AppendTerm: %v", err)
	}
	if l.LastVote() != "" {
		t.Fatalf("LastVote = %q, want empty after term advance", l.LastVote())
	}
	if err := l.AppendVote(2, "node-b"); err != nil {
		t.Fatalf("AppendVote after term advance: %v", err)
	}
}

func TestMatchIdempotence(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendEntry(1, 1, 0, addAction("a", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := l.AppendEntry(1, 2, 1, addAction("b", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	entry, err := l.Entry(2)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if !l.Match(entry.SpawnTerm, entry.Index-1) {
		t.Fatal("Match(entry.SpawnTerm, entry.Index-1) = false, want true")
	}
	if !l.Match(0, 0) {
		t.Fatal("Match(0, 0) = false, want true (sentinel)")
	}
}

func TestInvalidation(t *testing.T) {
	l := openTemp(t)

	if err := l.AppendEntry(1, 1, 0, addAction("a", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := l.AppendEntry(1, 2, 1, addAction("b", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	l.Invalidate(2)
	if l.LastIndex() != 1 {
		t.Fatalf("LastIndex = %d, want 1", l.LastIndex())
	}

	if err := l.AppendEntry(1, 2, 1, addAction("c", "1")); err != nil {
		t.Fatalf("AppendEntry after invalidate: %v", err)
	}
}

func TestRecoveryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.AppendTerm(1); err != nil {
		t.Fatalf("AppendTerm: %v", err)
	}
	if err := l.AppendVote(1, "node-a"); err != nil {
		t.Fatalf("AppendVote: %v", err)
	}
	if err := l.AppendEntry(1, 1, 0, addAction("a", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := l.AppendEntry(1, 2, 1, addAction("b", "1")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := l.SetCommitIndex(2); err != nil {
		t.Fatalf("SetCommitIndex: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Term() != 1 {
		t.Errorf("Term = %d, want 1", reopened.Term())
	}
	if reopened.LastVote() != "node-a" {
		t.Errorf("LastVote = %q, want node-a", reopened.LastVote())
	}
	if reopened.LastIndex() != 2 {
		t.Errorf("LastIndex = %d, want 2", reopened.LastIndex())
	}
	if reopened.CommitIndex() != 2 {
		t.Errorf("CommitIndex = %d, want 2", reopened.CommitIndex())
	}

	e1, err := reopened.Entry(1)
	if err != nil || e1.Action.Key != "a" {
		t.Errorf("Entry(1) = %+v, err=%v", e1, err)
	}
}

func TestNewTermCallbackFiresOnLiveAdvance(t *testing.T) {
	l := openTemp(t)

	fired := false
	l.OnNewTerm(func(uint64) { fired = true })

	if err := l.AppendTerm(1); err != nil {
		t.Fatalf("AppendTerm: %v", err)
	}
	if !fired {
		t.Error("OnNewTerm did not fire for a live term advance")
	}
}
