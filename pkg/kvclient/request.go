package kvclient

import (
	"encoding/json"

	"github.com/arkestra/ravel/pkg/types"
)

// Add submits an Add(key, version) request from this node.
func (c *Client) Add(key, version string) {
	c.Submit(types.Action{Kind: types.ActionAdd, From: c.nodeID, Key: key, Version: version})
}

// Update submits an Update(key, oldVersion -> newVersion) request.
func (c *Client) Update(key, oldVersion, newVersion string) {
	c.Submit(types.Action{Kind: types.ActionUpdate, From: c.nodeID, Key: key, OldVersion: oldVersion, Version: newVersion})
}

// Delete submits a Delete(key, version) request.
func (c *Client) Delete(key, version string) {
	c.Submit(types.Action{Kind: types.ActionDelete, From: c.nodeID, Key: key, Version: version})
}

// Rename submits a Rename(key -> newKey, version) request.
func (c *Client) Rename(key, newKey, version string) {
	c.Submit(types.Action{Kind: types.ActionRename, From: c.nodeID, Key: key, NewKey: newKey, Version: version})
}

// Submit is the common entry point spec.md §4.3 describes: a non-leader
// node forwards a valid request to the known leader (dropping it if the
// leader is unknown); a leader runs the validity check itself and, if
// valid, hands the request to Raft as an entry action. Invalid and done
// requests are dropped silently (logged at info).
func (c *Client) Submit(action types.Action) {
	outcome := c.checkValidity(action)
	switch outcome {
	case Done:
		c.logger.Info().Str("key", action.Key).Msg("request already satisfied, dropping")
		return
	case Invalid:
		c.logger.Info().Str("key", action.Key).Str("kind", string(action.Kind)).Msg("invalid request, dropping")
		return
	}

	c.markPending(action)

	if c.proposer.Role() == "leader" {
		if _, ok := c.proposer.Propose(action); !ok {
			c.logger.Warn().Str("key", action.Key).Msg("propose failed despite leader role")
		}
		return
	}

	leader := c.proposer.Leader()
	if leader == "" {
		c.logger.Info().Str("key", action.Key).Msg("no known leader, dropping request")
		return
	}

	content, err := json.Marshal(action)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode action for forwarding")
		return
	}
	env := types.Envelope{Module: types.ModuleRaftClient, Content: content}
	if err := c.sender.Send(leader, env); err != nil {
		c.logger.Warn().Err(err).Str("leader", leader).Msg("failed to forward request to leader")
	}
}

// HandleRemoteRequest is called by pkg/controller when it dispatches an
// inbound raftclient-module envelope. It re-validates locally (the
// sender's view may be stale) before treating this node as the leader.
func (c *Client) HandleRemoteRequest(action types.Action) {
	c.Submit(action)
}

// markPending records the tentative effect of a request this node has
// decided is valid, so that subsequent local requests see it before
// the entry commits.
func (c *Client) markPending(action types.Action) {
	switch action.Kind {
	case types.ActionAdd, types.ActionUpdate:
		c.pending[action.Key] = pendingEntry{exists: true, version: action.Version, origin: action.From}
	case types.ActionDelete:
		c.pending[action.Key] = pendingEntry{exists: false}
	case types.ActionRename:
		c.pending[action.Key] = pendingEntry{exists: false}
		c.pending[action.NewKey] = pendingEntry{exists: true, version: action.Version, origin: action.From}
	}
}
