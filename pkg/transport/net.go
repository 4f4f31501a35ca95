package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/arkestra/ravel/pkg/types"
)

// Net is a Transport implementation carrying newline-delimited JSON
// Envelope values over persistent net.Conn connections, one per peer.
//
// When two nodes dial each other simultaneously, both ends end up with
// a connection to the same peer; the tie-break rule (spec.md §6,
// grounded on the original's connection_pool.hpp) is to keep the
// connection on which the lexicographically smaller node id is the
// dialer, and drop the other.
type Net struct {
	id string

	mu    sync.RWMutex
	conns map[string]*peerConn

	onMessage    MessageHandler
	onConnect    PeerHandler
	onDisconnect PeerHandler
}

type peerConn struct {
	id   string
	conn net.Conn
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewNet creates a Net transport for the local node id. Callers must
// call Accept for every inbound net.Conn and Dial for every peer this
// node initiates a connection to.
func NewNet(id string) *Net {
	return &Net{
		id:    id,
		conns: make(map[string]*peerConn),
	}
}

// Dial establishes an outbound connection to peerID over conn and
// starts its read loop. If a connection to peerID already exists, the
// simultaneous-connect tie-break decides which survives.
func (n *Net) Dial(peerID string, conn net.Conn) {
	n.adopt(peerID, conn, true)
}

// Accept registers an inbound connection from peerID (identified by
// the handshake the caller already performed) and starts its read
// loop.
func (n *Net) Accept(peerID string, conn net.Conn) {
	n.adopt(peerID, conn, false)
}

func (n *Net) adopt(peerID string, conn net.Conn, dialedByUs bool) {
	pc := &peerConn{id: peerID, conn: conn, enc: json.NewEncoder(conn)}

	n.mu.Lock()
	existing, had := n.conns[peerID]
	keepNew := true
	if had {
		// Tie-break: keep the connection on which the lexicographically
		// smaller id is the dialer. If we dialed and our id is not the
		// smaller one, our new connection loses.
		weAreSmaller := n.id < peerID
		if dialedByUs {
			keepNew = weAreSmaller
		} else {
			keepNew = !weAreSmaller
		}
	}

	if keepNew {
		n.conns[peerID] = pc
	}
	n.mu.Unlock()

	if had && !keepNew {
		conn.Close()
		return
	}
	if had && keepNew {
		existing.conn.Close()
	}

	if !had {
		n.fireConnect(peerID)
	}

	go n.readLoop(pc)
}

func (n *Net) readLoop(pc *peerConn) {
	scanner := bufio.NewScanner(pc.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var env types.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue
		}

		n.mu.RLock()
		handler := n.onMessage
		n.mu.RUnlock()
		if handler != nil {
			handler(pc.id, env)
		}
	}

	n.mu.Lock()
	if n.conns[pc.id] == pc {
		delete(n.conns, pc.id)
	}
	n.mu.Unlock()

	n.fireDisconnect(pc.id)
}

func (n *Net) fireConnect(peerID string) {
	n.mu.RLock()
	handler := n.onConnect
	n.mu.RUnlock()
	if handler != nil {
		handler(peerID)
	}
}

func (n *Net) fireDisconnect(peerID string) {
	n.mu.RLock()
	handler := n.onDisconnect
	n.mu.RUnlock()
	if handler != nil {
		handler(peerID)
	}
}

func (n *Net) Send(peerID string, env types.Envelope) error {
	n.mu.RLock()
	pc, ok := n.conns[peerID]
	n.mu.RUnlock()
	if !ok {
		return ErrPeerNotConnected
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.enc.Encode(env)
}

func (n *Net) Broadcast(env types.Envelope) {
	for _, peerID := range n.Peers() {
		_ = n.Send(peerID, env)
	}
}

func (n *Net) OnMessage(handler MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onMessage = handler
}

func (n *Net) OnPeerConnect(handler PeerHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = handler
}

func (n *Net) OnPeerDisconnect(handler PeerHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnect = handler
}

func (n *Net) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := make([]string, 0, len(n.conns))
	for id := range n.conns {
		ids = append(ids, id)
	}
	return ids
}
