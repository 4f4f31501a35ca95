// Package transport defines the capability Ravel's components use to
// exchange envelopes with peers, and a reference in-process
// implementation for tests. See net.go for the NDJSON-over-net.Conn
// implementation used at runtime.
//
// The concrete connection pool, retry/backoff policy, and wire framing
// are out of scope (see DESIGN.md): only the capability surface and a
// minimally conforming implementation live here.
package transport

import (
	"sync"

	"github.com/arkestra/ravel/pkg/types"
)

// MessageHandler is invoked for every envelope received from a peer.
type MessageHandler func(from string, env types.Envelope)

// PeerHandler is invoked when a peer connects or disconnects.
type PeerHandler func(peerID string)

// Transport is the capability every component that talks to peers
// depends on. pkg/controller holds one and uses it to send RPCs and
// receive dispatched envelopes; pkg/changetransfer uses it to fetch
// blobs from the node named in the version map.
type Transport interface {
	// Send delivers env to a single named peer. Returns an error if
	// the peer is not currently connected; callers treat this as a
	// recoverable, logged condition (spec.md §7), never fatal.
	Send(peerID string, env types.Envelope) error

	// Broadcast delivers env to every connected peer.
	Broadcast(env types.Envelope)

	// OnMessage registers the handler invoked for every inbound
	// envelope. Only one handler may be registered; pkg/controller is
	// the sole subscriber in this daemon.
	OnMessage(handler MessageHandler)

	// OnPeerConnect/OnPeerDisconnect register handlers invoked as
	// peers join and leave the connected set.
	OnPeerConnect(handler PeerHandler)
	OnPeerDisconnect(handler PeerHandler)

	// Peers returns the IDs of currently connected peers.
	Peers() []string
}

// InProcess is a Transport implementation that delivers envelopes by
// direct function call between Transport instances registered in a
// shared Hub. It never touches the network; used in tests that need
// several nodes exchanging envelopes within one process.
type InProcess struct {
	id  string
	hub *Hub

	mu           sync.RWMutex
	onMessage    MessageHandler
	onConnect    PeerHandler
	onDisconnect PeerHandler
}

// Hub is the shared registry a set of InProcess transports join. It
// plays the role the network plays for the NDJSON implementation:
// routing envelopes and tracking who's connected.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*InProcess
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*InProcess)}
}

// Join registers a new InProcess transport for id and notifies every
// already-joined peer's connect handler (and vice versa).
func (h *Hub) Join(id string) *InProcess {
	t := &InProcess{id: id, hub: h}

	h.mu.Lock()
	existing := make([]*InProcess, 0, len(h.peers))
	for _, p := range h.peers {
		existing = append(existing, p)
	}
	h.peers[id] = t
	h.mu.Unlock()

	for _, p := range existing {
		p.fireConnect(id)
		t.fireConnect(p.id)
	}

	return t
}

// Leave removes id from the hub and notifies every remaining peer's
// disconnect handler.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	remaining := make([]*InProcess, 0, len(h.peers))
	for _, p := range h.peers {
		remaining = append(remaining, p)
	}
	h.mu.Unlock()

	for _, p := range remaining {
		p.fireDisconnect(id)
	}
}

func (t *InProcess) fireConnect(peerID string) {
	t.mu.RLock()
	handler := t.onConnect
	t.mu.RUnlock()
	if handler != nil {
		handler(peerID)
	}
}

func (t *InProcess) fireDisconnect(peerID string) {
	t.mu.RLock()
	handler := t.onDisconnect
	t.mu.RUnlock()
	if handler != nil {
		handler(peerID)
	}
}

func (t *InProcess) Send(peerID string, env types.Envelope) error {
	t.hub.mu.RLock()
	peer, ok := t.hub.peers[peerID]
	t.hub.mu.RUnlock()
	if !ok {
		return ErrPeerNotConnected
	}

	peer.mu.RLock()
	handler := peer.onMessage
	peer.mu.RUnlock()
	if handler != nil {
		handler(t.id, env)
	}
	return nil
}

func (t *InProcess) Broadcast(env types.Envelope) {
	for _, peerID := range t.Peers() {
		_ = t.Send(peerID, env)
	}
}

func (t *InProcess) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = handler
}

func (t *InProcess) OnPeerConnect(handler PeerHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

func (t *InProcess) OnPeerDisconnect(handler PeerHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

func (t *InProcess) Peers() []string {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()

	ids := make([]string, 0, len(t.hub.peers))
	for id := range t.hub.peers {
		if id != t.id {
			ids = append(ids, id)
		}
	}
	return ids
}
