package transport

import (
	"testing"
	"time"

	"github.com/arkestra/ravel/pkg/types"
)

func TestInProcessSendDelivers(t *testing.T) {
	hub := NewHub()
	a := hub.Join("node-a")
	b := hub.Join("node-b")

	received := make(chan types.Envelope, 1)
	b.OnMessage(func(from string, env types.Envelope) {
		if from != "node-a" {
			t.Errorf("from = %q, want node-a", from)
		}
		received <- env
	})

	env := types.Envelope{Module: types.ModuleRaftState, Content: []byte(`{}`)}
	if err := a.Send("node-b", env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Module != env.Module {
			t.Errorf("Module = %q, want %q", got.Module, env.Module)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInProcessSendToUnknownPeer(t *testing.T) {
	hub := NewHub()
	a := hub.Join("node-a")

	err := a.Send("node-z", types.Envelope{})
	if err != ErrPeerNotConnected {
		t.Errorf("err = %v, want ErrPeerNotConnected", err)
	}
}

func TestInProcessPeersExcludesSelf(t *testing.T) {
	hub := NewHub()
	a := hub.Join("node-a")
	hub.Join("node-b")
	hub.Join("node-c")

	peers := a.Peers()
	if len(peers) != 2 {
		t.Fatalf("len(peers) = %d, want 2", len(peers))
	}
	for _, p := range peers {
		if p == "node-a" {
			t.Error("Peers() included self")
		}
	}
}

func TestInProcessConnectNotifications(t *testing.T) {
	hub := NewHub()
	a := hub.Join("node-a")

	connected := make(chan string, 1)
	a.OnPeerConnect(func(peerID string) { connected <- peerID })

	hub.Join("node-b")

	select {
	case id := <-connected:
		if id != "node-b" {
			t.Errorf("connected = %q, want node-b", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect notification")
	}
}
