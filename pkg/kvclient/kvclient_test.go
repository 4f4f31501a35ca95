package kvclient

import (
	"testing"

	"github.com/arkestra/ravel/pkg/types"
)

// fakeProposer simulates a single-node Raft: Propose immediately
// "commits" by invoking the supplied apply callback, so tests can
// exercise Submit -> validity -> commit -> notify without a real log.
type fakeProposer struct {
	role   string
	leader string
	apply  func(types.Action)
}

func (f *fakeProposer) Role() string   { return f.role }
func (f *fakeProposer) Leader() string { return f.leader }
func (f *fakeProposer) Propose(a types.Action) (uint64, bool) {
	if f.role != "leader" {
		return 0, false
	}
	f.apply(a)
	return 1, true
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(peerID string, env types.Envelope) error {
	f.sent = append(f.sent, peerID)
	return nil
}

type fakeCommitListener struct {
	seen []types.Action
}

func (f *fakeCommitListener) OnKVCommit(a types.Action) { f.seen = append(f.seen, a) }

func newLeaderClient() (*Client, *fakeProposer) {
	p := &fakeProposer{role: "leader"}
	c := New("foo", p, &fakeSender{})
	p.apply = c.OnCommit
	return c, p
}

func TestAddDeleteRoundTrip(t *testing.T) {
	c, _ := newLeaderClient()

	c.Add("root", "0")
	if v, ok := c.Lookup("root"); !ok || v.Version != "0" {
		t.Fatalf("Lookup after Add = %+v, %v", v, ok)
	}

	c.Delete("root", "0")
	if _, ok := c.Lookup("root"); ok {
		t.Fatalf("key still present after Delete")
	}
}

func TestAddAlreadyPresentSameVersionIsDone(t *testing.T) {
	c, p := newLeaderClient()
	c.Add("root", "0")

	// Re-submitting the identical Add must be a silent no-op (Done),
	// not a second Propose call.
	p.apply = func(types.Action) { t.Fatal("Propose should not be called for a Done request") }
	c.Add("root", "0")
}

func TestAddConflictingVersionIsInvalid(t *testing.T) {
	c, p := newLeaderClient()
	c.Add("root", "0")

	p.apply = func(types.Action) { t.Fatal("Propose should not be called for an Invalid request") }
	c.Add("root", "1")
}

func TestUpdateLinearisation(t *testing.T) {
	c, _ := newLeaderClient()
	c.Add("root", "0")

	c.Update("root", "0", "1")
	if v, _ := c.Lookup("root"); v.Version != "1" {
		t.Fatalf("version after first update = %q, want 1", v.Version)
	}

	// A stale old_version must be rejected.
	c.Update("root", "0", "2")
	if v, _ := c.Lookup("root"); v.Version != "1" {
		t.Fatalf("version after stale update = %q, want unchanged 1", v.Version)
	}

	c.Update("root", "1", "2")
	if v, _ := c.Lookup("root"); v.Version != "2" {
		t.Fatalf("version after second update = %q, want 2", v.Version)
	}
}

func TestRenameIdempotence(t *testing.T) {
	c, _ := newLeaderClient()
	c.Add("a", "0")

	c.Rename("a", "b", "0")
	if _, ok := c.Lookup("a"); ok {
		t.Fatal("source key still present after rename")
	}
	if v, ok := c.Lookup("b"); !ok || v.Version != "0" {
		t.Fatalf("Lookup(b) = %+v, %v", v, ok)
	}

	// Repeating the identical rename after it has already landed must
	// be recognized as Done (source absent, destination already at
	// the target version) rather than Invalid.
	c.Rename("a", "b", "0")
	if v, ok := c.Lookup("b"); !ok || v.Version != "0" {
		t.Fatalf("Lookup(b) after repeated rename = %+v, %v", v, ok)
	}
}

func TestRenameDestinationOccupiedIsInvalid(t *testing.T) {
	c, p := newLeaderClient()
	c.Add("a", "0")
	c.Add("b", "0")

	p.apply = func(types.Action) { t.Fatal("Propose should not be called when destination is occupied") }
	c.Rename("a", "b", "0")
}

func TestFollowerForwardsToKnownLeader(t *testing.T) {
	p := &fakeProposer{role: "follower", leader: "bar"}
	sender := &fakeSender{}
	c := New("foo", p, sender)

	c.Add("root", "0")

	if len(sender.sent) != 1 || sender.sent[0] != "bar" {
		t.Fatalf("sent = %+v, want one send to bar", sender.sent)
	}
	// Local state is not yet committed; the pending map only reflects
	// the tentative effect.
	if _, ok := c.Lookup("root"); ok {
		t.Fatal("version map should not be mutated before commit")
	}
}

func TestFollowerDropsWhenLeaderUnknown(t *testing.T) {
	p := &fakeProposer{role: "follower", leader: ""}
	sender := &fakeSender{}
	c := New("foo", p, sender)

	c.Add("root", "0")

	if len(sender.sent) != 0 {
		t.Fatalf("sent = %+v, want no forwarding with unknown leader", sender.sent)
	}
}

func TestCommitNotifiesSubscribers(t *testing.T) {
	c, _ := newLeaderClient()
	listener := &fakeCommitListener{}
	c.Subscribe(listener)

	c.Add("root", "0")

	if len(listener.seen) != 1 || listener.seen[0].Key != "root" {
		t.Fatalf("listener.seen = %+v, want one Add(root)", listener.seen)
	}
}

func TestKeyCount(t *testing.T) {
	c, _ := newLeaderClient()
	c.Add("a", "0")
	c.Add("b", "0")

	if got := c.KeyCount(); got != 2 {
		t.Fatalf("KeyCount() = %d, want 2", got)
	}
}
