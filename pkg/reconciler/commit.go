package reconciler

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/arkestra/ravel/pkg/metrics"
	"github.com/arkestra/ravel/pkg/types"
)

// OnKVCommit implements kvclient.CommitListener. It is invoked
// synchronously on the kvclient's apply path once an action has
// landed in the version map, so dcache mutations here are always
// consistent with what Lookup would return afterward.
func (r *Reconciler) OnKVCommit(action types.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch action.Kind {
	case types.ActionAdd:
		r.commitAdd(action)
	case types.ActionUpdate:
		r.commitUpdate(action)
	case types.ActionDelete:
		r.commitDelete(action)
	case types.ActionRename:
		r.commitRename(action)
	}
}

func (r *Reconciler) commitAdd(action types.Action) {
	p, err := DecodePath(action.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", action.Key).Msg("dropping commit for undecodable key")
		return
	}

	if r.settleOwnHead(p, types.ActionAdd, action.Version) {
		return
	}
	r.applyRemoteVersion(p, action.Key, action.Version, action.From, true)
}

func (r *Reconciler) commitUpdate(action types.Action) {
	p, err := DecodePath(action.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", action.Key).Msg("dropping commit for undecodable key")
		return
	}

	if r.settleOwnHead(p, types.ActionUpdate, action.Version) {
		return
	}
	r.applyRemoteVersion(p, action.Key, action.Version, action.From, false)
}

func (r *Reconciler) commitDelete(action types.Action) {
	p, err := DecodePath(action.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", action.Key).Msg("dropping commit for undecodable key")
		return
	}

	if q := r.syncCache[p]; len(q) > 0 {
		head := q[0]
		if head.Kind == types.ActionDelete && head.OldVersion == action.Version {
			r.popSyncCache(p)
			if ni, ok := r.get(p); ok && ni.State == types.StateDead && ni.OpenHandles == 0 && len(r.syncCache[p]) == 0 {
				r.removeDcacheEntry(p)
				dir, _ := splitPath(p)
				r.cleanDirectories(dir)
			}
			return
		}
	}
	r.applyRemoteDelete(p, action.Version)
}

func (r *Reconciler) commitRename(action types.Action) {
	fromPath, err := DecodePath(action.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", action.Key).Msg("dropping rename commit for undecodable source key")
		return
	}
	toPath, err := DecodePath(action.NewKey)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", action.NewKey).Msg("dropping rename commit for undecodable dest key")
		return
	}

	if r.completeOwnRenameSignpost(fromPath, toPath, action.Version) {
		return
	}

	r.applyRemoteDelete(fromPath, action.Version)
	r.applyRemoteVersion(toPath, action.NewKey, action.Version, action.From, true)
}

// settleOwnHead checks whether the sync-cache head at p is the local
// mutation this commit reflects. If so it pops the queue and
// transitions the dcache entry to clean (or pending, if a newer local
// write is already queued behind it), returning true. Otherwise it
// returns false, leaving the conflict to be handled by the caller.
func (r *Reconciler) settleOwnHead(p string, kind types.ActionKind, version string) bool {
	q := r.syncCache[p]
	if len(q) == 0 {
		return false
	}
	head := q[0]
	if head.Kind != kind || head.NewVersion != version {
		return false
	}
	r.popSyncCache(p)

	ni, ok := r.get(p)
	if !ok {
		return true
	}
	ni.Version = version
	if len(r.syncCache[p]) > 0 {
		ni.State = types.StatePending
		ni.PreviousVersion = version
	} else {
		if ni.OpenHandles > 0 {
			ni.State = types.StateActiveRead
		} else {
			ni.State = types.StateClean
		}
	}
	return true
}

// applyRemoteVersion brings the dcache in line with a committed
// Add/Update/Rename-destination from another node, recovering any
// conflicting local mutation first and fetching the blob if it isn't
// held locally yet.
func (r *Reconciler) applyRemoteVersion(p, key, version, origin string, create bool) {
	recovered := false
	if q := r.syncCache[p]; len(q) > 0 {
		r.recoverConflict(p)
		recovered = true
	}

	ni, ok := r.get(p)
	if !ok {
		if !create && !recovered {
			r.logger.Warn().Str("path", p).Msg("commit for unknown path, dropping")
			return
		}
		dir, base := splitPath(p)
		r.makeDirectories(dir, types.StateNovel)
		ni = &types.NodeInfo{Name: base, Kind: types.KindFile, State: types.StatePending}
		r.dcache[dir] = append(r.dcache[dir], ni)
	}

	if ni.OpenHandles > 0 {
		r.rcache[p] = types.RcacheEntry{Key: EncodePath(p), Version: ni.Version}
		r.fusetl[p] = types.Redirect{Target: types.TargetRcache, Key: r.rcache[p].Key, Version: r.rcache[p].Version}
	}

	ni.PreviousVersion = ni.Version
	ni.Version = version

	if r.store.ExistsVersion(key, version) {
		if ni.OpenHandles > 0 {
			ni.State = types.StateActiveRead
		} else {
			ni.State = types.StateClean
		}
	} else {
		ni.State = types.StatePending
		r.ct.RequestBlob(origin, key, version, "", 0)
	}
}

// applyRemoteDelete reaps the dcache entry for a committed remote
// Delete/Rename-source, recovering any conflicting local mutation and
// pinning open handles to the last known version first.
func (r *Reconciler) applyRemoteDelete(p, version string) {
	if q := r.syncCache[p]; len(q) > 0 {
		r.recoverConflict(p)
	}

	ni, ok := r.get(p)
	if !ok {
		return
	}
	if ni.OpenHandles > 0 {
		r.rcache[p] = types.RcacheEntry{Key: EncodePath(p), Version: ni.Version}
		r.fusetl[p] = types.Redirect{Target: types.TargetRcache, Key: r.rcache[p].Key, Version: r.rcache[p].Version}
		return
	}
	r.removeDcacheEntry(p)
	dir, _ := splitPath(p)
	r.cleanDirectories(dir)
}

// completeOwnRenameSignpost checks both halves of a local rename
// signpost against the commit. If at least one half matches, cleanup
// proceeds (a dangling unmatched half is logged, not fatal: the
// signpost's purpose was to keep both sides consistent until commit,
// not to require perfect symmetry at cleanup time).
func (r *Reconciler) completeOwnRenameSignpost(fromPath, toPath, version string) bool {
	srcQ := r.syncCache[fromPath]
	dstQ := r.syncCache[toPath]

	srcMatches := len(srcQ) > 0 && srcQ[0].Kind == types.ActionRename && srcQ[0].RenamePeer == toPath && srcQ[0].NewVersion == version
	dstMatches := len(dstQ) > 0 && dstQ[0].Kind == types.ActionRename && dstQ[0].RenamePeer == fromPath && dstQ[0].NewVersion == version

	if !srcMatches && !dstMatches {
		return false
	}
	if srcMatches != dstMatches {
		r.logger.Warn().Str("from", fromPath).Str("to", toPath).Msg("rename signpost cleanup with only one half present")
	}

	if srcMatches {
		r.popSyncCache(fromPath)
		r.removeDcacheEntry(fromPath)
		dir, _ := splitPath(fromPath)
		r.cleanDirectories(dir)
	}
	if dstMatches {
		r.popSyncCache(toPath)
		if ni, ok := r.get(toPath); ok {
			ni.Rename = nil
			ni.State = types.StateClean
			ni.Version = version
		}
	}
	return true
}

// recoverConflict handles a committed remote mutation that supersedes
// a queued local one: the remote side wins, and the local head is
// preserved by renaming it in place to <path>.NNNN-NNNN and re-queued
// as a fresh Add under the recovered path (spec.md §8 "Conflict
// preservation").
func (r *Reconciler) recoverConflict(p string) {
	q := r.syncCache[p]
	if len(q) == 0 {
		return
	}
	head := q[0]
	r.popSyncCache(p)
	metrics.ConflictsTotal.Inc()

	// A queued Delete has no content to preserve: the local intent
	// was to remove the path, and the remote commit already
	// superseded whatever version that intent targeted.
	if head.Kind != types.ActionAdd && head.Kind != types.ActionUpdate {
		r.logger.Warn().Str("path", p).Str("kind", string(head.Kind)).Msg("local mutation superseded by remote commit, dropped")
		return
	}

	ni, ok := r.get(p)
	if !ok {
		return
	}

	recoveredName := ni.Name + "." + conflictSuffix()
	dir, _ := splitPath(p)
	recoveredPath := dir + "/" + recoveredName
	if dir == "/" {
		recoveredPath = "/" + recoveredName
	}

	oldVersion := head.NewVersion
	newKey := EncodePath(recoveredPath)
	if err := r.store.Rename(head.Key, oldVersion, newKey, oldVersion); err != nil {
		r.logger.Error().Err(err).Str("path", p).Msg("failed to rename blob during conflict recovery")
	}

	ni.Name = recoveredName
	ni.State = types.StateNovel
	ni.Version = ""

	r.syncCache[recoveredPath] = []syncEntry{{
		Kind:       types.ActionAdd,
		Key:        newKey,
		NewVersion: oldVersion,
	}}

	r.logger.Warn().Str("path", p).Str("recovered_path", recoveredPath).Msg("local mutation superseded by remote commit, recovered")
}

// conflictSuffix generates the "NNNN-NNNN" lowercase-hex suffix used
// to recover a conflicting local path.
func conflictSuffix() string {
	id := uuid.New()
	a := binary.BigEndian.Uint16(id[0:2])
	b := binary.BigEndian.Uint16(id[2:4])
	return fmt.Sprintf("%04x-%04x", a, b)
}

