// Package changetransfer is C6: the request/response RPC a node uses
// to lazily fetch a (key, version) blob it lacks from the peer that
// introduced it. Requests and responses ride the transport as
// newline-delimited JSON envelopes under the ModuleChangeTransfer
// module name (spec.md §4.6, §6).
package changetransfer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/changestore"
	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/types"
)

// Sender is the slice of pkg/transport.Transport a Transfer depends on.
type Sender interface {
	Send(peerID string, env types.Envelope) error
}

// ArrivalHandler is notified once a requested blob has been fully
// persisted to the change store. pkg/reconciler subscribes to promote
// the corresponding dcache/rcache entry out of its pending state.
type ArrivalHandler func(key, version string)

// Transfer issues and answers change-transfer RPCs for one node.
type Transfer struct {
	id     string
	store  *changestore.Store
	sender Sender

	onArrival []ArrivalHandler

	logger zerolog.Logger
}

// New creates a Transfer for node id, persisting received blobs into
// store and sending RPCs over sender.
func New(id string, store *changestore.Store, sender Sender) *Transfer {
	return &Transfer{
		id:     id,
		store:  store,
		sender: sender,
		logger: log.WithComponent("changetransfer"),
	}
}

// OnArrival registers a callback fired after a requested blob is fully
// persisted. Multiple callbacks may be registered; all are called.
func (t *Transfer) OnArrival(fn ArrivalHandler) {
	t.onArrival = append(t.onArrival, fn)
}

func (t *Transfer) send(peer string, v interface{}) {
	content, err := json.Marshal(v)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to encode change-transfer message")
		return
	}
	env := types.Envelope{Module: types.ModuleChangeTransfer, Content: content}
	if err := t.sender.Send(peer, env); err != nil {
		t.logger.Info().Err(err).Str("peer", peer).Msg("failed to send change-transfer message")
	}
}

// RequestBlob asks peer for (key, version), starting at byte offset
// start (0 for a fresh transfer).
func (t *Transfer) RequestBlob(peer, key, version, oldVersion string, start uint32) {
	t.send(peer, Request{
		Type: TypeRequest, Key: key, Version: version, OldVersion: oldVersion, Start: start,
	})
}

func encodeData(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeData(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("changetransfer: decoding base64 chunk: %w", err)
	}
	return data, nil
}
