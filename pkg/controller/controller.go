// Package controller is C4: the event loop that owns the daemon's
// single outstanding timer and wraps/unwraps the two-level
// {module, content} envelope that carries every inter-node message
// (spec.md §4.4, §6). It sends every raftstate RPC over pkg/transport
// and is the only thing that calls raftstate.State.Timeout on the
// timer side, keeping raftstate itself free of any transport or timer
// dependency. pkg/kvclient and pkg/changetransfer send their own
// envelopes through a narrow slice of the transport.
package controller

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/changetransfer"
	"github.com/arkestra/ravel/pkg/config"
	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/raftstate"
	"github.com/arkestra/ravel/pkg/transport"
	"github.com/arkestra/ravel/pkg/types"
)

// Raft is the slice of raftstate.State the controller drives.
type Raft interface {
	Timeout()
	HandleAppendEntries(from string, req raftstate.AppendEntriesRequest)
	HandleAppendEntriesResponse(from string, resp raftstate.AppendEntriesResponse)
	HandleRequestVote(from string, req raftstate.RequestVoteRequest)
	HandleRequestVoteResponse(from string, resp raftstate.RequestVoteResponse)
}

// KV is the slice of kvclient.Client the controller dispatches
// forwarded requests to.
type KV interface {
	HandleRemoteRequest(action types.Action)
}

// ChangeTransfer is the slice of changetransfer.Transfer the
// controller dispatches change-transfer envelopes to. It is optional:
// a Controller with none set simply drops changetransfer envelopes
// (logged at warn, same as any other undispatchable module) rather
// than panicking, so tests exercising only raftstate/kvclient need not
// wire one up.
type ChangeTransfer interface {
	HandleRequest(from string, req changetransfer.Request)
	HandleResponse(from string, resp changetransfer.Response)
}

// Controller wires a Raft state machine and a KV client to a
// transport, implementing raftstate.Handlers and running the single
// serialized event loop every inbound message and timer firing passes
// through.
type Controller struct {
	id        string
	transport transport.Transport
	raft      Raft
	kv        KV
	ct        ChangeTransfer
	timers    config.TimerConfig

	rng *rand.Rand

	mu    sync.Mutex
	timer *time.Timer

	events chan func()
	stopCh chan struct{}

	logger zerolog.Logger
}

// New creates a Controller for this node. Call Start to begin running
// its event loop and RequestTimeout(TimeoutElection) to arm the
// initial election timeout; Start itself arms no timer.
func New(id string, t transport.Transport, raft Raft, kv KV, timers config.TimerConfig) *Controller {
	c := &Controller{
		id:        id,
		transport: t,
		raft:      raft,
		kv:        kv,
		timers:    timers,
		rng:       rand.New(rand.NewSource(seedFor(id))),
		events:    make(chan func(), 256),
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("controller"),
	}
	t.OnMessage(c.enqueueDispatch)
	return c
}

// SetChangeTransfer attaches the change-transfer handler for
// changetransfer-module envelopes. Call it once, before Start.
func (c *Controller) SetChangeTransfer(ct ChangeTransfer) {
	c.ct = ct
}

func seedFor(id string) int64 {
	var h int64
	for _, r := range id {
		h = h*31 + int64(r)
	}
	if h == 0 {
		h = 1
	}
	return h
}

// Start runs the event loop until Stop is called. It blocks; callers
// run it in its own goroutine.
func (c *Controller) Start() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends the event loop and cancels any outstanding timer.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
}

// enqueueDispatch is registered as the transport's message handler. It
// never runs dispatch inline: everything that touches raft/kv state
// crosses onto the event-loop goroutine first, so two peers racing a
// message into the same process (as in tests using an in-process
// transport) never run raft handlers concurrently with each other or
// with a timer firing.
func (c *Controller) enqueueDispatch(from string, env types.Envelope) {
	c.events <- func() { c.dispatch(from, env) }
}

// dispatch decodes env's content according to its declared module and
// routes it to raftstate or kvclient. Unknown modules and malformed
// envelopes are logged and dropped, never treated as fatal (spec.md §7).
func (c *Controller) dispatch(from string, env types.Envelope) {
	switch env.Module {
	case types.ModuleRaftState:
		c.dispatchRaftState(from, env.Content)
	case types.ModuleRaftClient:
		c.dispatchRaftClient(from, env.Content)
	case types.ModuleChangeTransfer:
		c.dispatchChangeTransfer(from, env.Content)
	default:
		c.logger.Warn().Str("module", env.Module).Str("from", from).Msg("dropping envelope with unknown module")
	}
}

func (c *Controller) dispatchRaftState(from string, content []byte) {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(content, &tagged); err != nil {
		c.logger.Warn().Err(err).Str("from", from).Msg("dropping malformed raftstate envelope")
		return
	}

	switch tagged.Type {
	case raftstate.TypeAppendEntries:
		var req raftstate.AppendEntriesRequest
		if err := json.Unmarshal(content, &req); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed append_entries")
			return
		}
		c.raft.HandleAppendEntries(from, req)

	case raftstate.TypeAppendEntriesResponse:
		var resp raftstate.AppendEntriesResponse
		if err := json.Unmarshal(content, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed append_entries_response")
			return
		}
		c.raft.HandleAppendEntriesResponse(from, resp)

	case raftstate.TypeRequestVote:
		var req raftstate.RequestVoteRequest
		if err := json.Unmarshal(content, &req); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed request_vote")
			return
		}
		c.raft.HandleRequestVote(from, req)

	case raftstate.TypeRequestVoteResponse:
		var resp raftstate.RequestVoteResponse
		if err := json.Unmarshal(content, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed request_vote_response")
			return
		}
		c.raft.HandleRequestVoteResponse(from, resp)

	default:
		c.logger.Warn().Str("type", tagged.Type).Str("from", from).Msg("dropping raftstate envelope of unknown type")
	}
}

func (c *Controller) dispatchRaftClient(from string, content []byte) {
	var action types.Action
	if err := json.Unmarshal(content, &action); err != nil {
		c.logger.Warn().Err(err).Str("from", from).Msg("dropping malformed raftclient envelope")
		return
	}
	c.kv.HandleRemoteRequest(action)
}

func (c *Controller) dispatchChangeTransfer(from string, content []byte) {
	if c.ct == nil {
		c.logger.Warn().Str("from", from).Msg("dropping changetransfer envelope, no handler attached")
		return
	}

	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(content, &tagged); err != nil {
		c.logger.Warn().Err(err).Str("from", from).Msg("dropping malformed changetransfer envelope")
		return
	}

	switch tagged.Type {
	case changetransfer.TypeRequest:
		var req changetransfer.Request
		if err := json.Unmarshal(content, &req); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed changetransfer request")
			return
		}
		c.ct.HandleRequest(from, req)

	case changetransfer.TypeResponse:
		var resp changetransfer.Response
		if err := json.Unmarshal(content, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed changetransfer response")
			return
		}
		c.ct.HandleResponse(from, resp)

	default:
		c.logger.Warn().Str("type", tagged.Type).Str("from", from).Msg("dropping changetransfer envelope of unknown type")
	}
}

func (c *Controller) send(peer string, v interface{}) {
	content, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode outbound raftstate message")
		return
	}
	env := types.Envelope{Module: types.ModuleRaftState, Content: content}
	if err := c.transport.Send(peer, env); err != nil {
		c.logger.Info().Err(err).Str("peer", peer).Msg("failed to send to peer")
	}
}

// SendAppendEntries implements raftstate.Handlers.
func (c *Controller) SendAppendEntries(peer string, req raftstate.AppendEntriesRequest) {
	c.send(peer, req)
}

// SendAppendEntriesResponse implements raftstate.Handlers.
func (c *Controller) SendAppendEntriesResponse(peer string, resp raftstate.AppendEntriesResponse) {
	c.send(peer, resp)
}

// SendRequestVote implements raftstate.Handlers.
func (c *Controller) SendRequestVote(peer string, req raftstate.RequestVoteRequest) {
	c.send(peer, req)
}

// SendRequestVoteResponse implements raftstate.Handlers.
func (c *Controller) SendRequestVoteResponse(peer string, resp raftstate.RequestVoteResponse) {
	c.send(peer, resp)
}

// RequestTimeout implements raftstate.Handlers: it (re)arms the single
// outstanding timer to fire after a jittered duration drawn from
// U(avg-fuzz/2, avg+fuzz/2) for the requested kind.
func (c *Controller) RequestTimeout(kind raftstate.TimeoutKind) {
	d := c.jitter(kind)

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() {
		select {
		case c.events <- c.raft.Timeout:
		case <-c.stopCh:
		}
	})
	c.mu.Unlock()
}

func (c *Controller) jitter(kind raftstate.TimeoutKind) time.Duration {
	var avg, fuzz time.Duration
	switch kind {
	case raftstate.TimeoutLeader:
		avg, fuzz = c.timers.LeaderAverage, c.timers.LeaderFuzz
	case raftstate.TimeoutElection:
		avg, fuzz = c.timers.ElectionAverage, c.timers.ElectionFuzz
	default:
		panic(fmt.Sprintf("controller: unknown timeout kind %q", kind))
	}

	if fuzz <= 0 {
		return avg
	}
	lo := avg - fuzz/2
	span := fuzz
	return lo + time.Duration(c.rng.Int63n(int64(span)))
}
