package kvclient

import "github.com/arkestra/ravel/pkg/types"

// OnCommit implements raftstate.ConsensusListener. It is called once
// per committed log entry, strictly in index order, on every node
// (leader and followers alike).
func (c *Client) OnCommit(action types.Action) {
	switch action.Kind {
	case types.ActionAdd:
		c.versionMap[action.Key] = types.VersionEntry{Version: action.Version, Origin: action.From}
		delete(c.pending, action.Key)

	case types.ActionUpdate:
		c.versionMap[action.Key] = types.VersionEntry{Version: action.Version, Origin: action.From}
		delete(c.pending, action.Key)

	case types.ActionDelete:
		delete(c.versionMap, action.Key)
		delete(c.pending, action.Key)

	case types.ActionRename:
		if v, ok := c.versionMap[action.Key]; ok {
			c.versionMap[action.NewKey] = types.VersionEntry{Version: v.Version, Origin: action.From}
		} else {
			c.versionMap[action.NewKey] = types.VersionEntry{Version: action.Version, Origin: action.From}
		}
		delete(c.versionMap, action.Key)
		delete(c.pending, action.Key)
		delete(c.pending, action.NewKey)

	default:
		c.logger.Warn().Str("kind", string(action.Kind)).Msg("ignoring commit of unknown action kind")
		return
	}

	c.logger.Info().Str("key", action.Key).Str("kind", string(action.Kind)).Msg("applied committed action")

	for _, l := range c.listeners {
		l.OnKVCommit(action)
	}
}
