// Package reconciler is C7: it reconciles the kernel filesystem
// binding's view of the tree (dcache, rcache, the fuse translation
// table, and a per-path sync-cache queue of outstanding mutations)
// against the replicated key-value store (spec.md §4.7). The kernel
// FUSE binding itself is an external collaborator; this package
// implements only the POSIX-style operation surface it would call
// into, plus the periodic tick that drains queued mutations into C3
// and the commit/arrival callbacks that keep the local view current.
package reconciler

import (
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/metrics"
	"github.com/arkestra/ravel/pkg/types"
)

// KVClient is the slice of pkg/kvclient.Client the reconciler submits
// mutations to.
type KVClient interface {
	Add(key, version string)
	Update(key, oldVersion, newVersion string)
	Delete(key, version string)
	Rename(key, newKey, version string)
}

// ChangeTransfer is the slice of pkg/changetransfer.Transfer the
// reconciler uses to fetch blobs it doesn't yet hold locally. Arrival
// notifications are wired separately by the caller via
// changetransfer.Transfer.OnArrival(reconciler.NotifyArrival), since
// that registration isn't part of the narrow collaborator surface.
type ChangeTransfer interface {
	RequestBlob(peer, key, version, oldVersion string, start uint32)
}

// ChangeStore is the slice of pkg/changestore.Store the reconciler
// reads and writes blob content through.
type ChangeStore interface {
	Exists(key string) bool
	ExistsVersion(key, version string) bool
	Path(key, version string) string
	Add(key, version string) (string, error)
	Rename(key, version, newKey, newVersion string) error
}

// syncEntry is one queued local mutation awaiting submission to C3.
// It is independent of the dcache's NodeInfo so that a chain of edits
// to the same path (each releasing before the last one commits) can
// queue distinct entries without aliasing the same pointer twice.
type syncEntry struct {
	Kind       types.ActionKind
	Key        string
	OldVersion string
	NewVersion string

	// RenamePeer holds the path at the other end of a rename
	// signpost; empty for non-rename entries.
	RenamePeer string
}

// Reconciler is C7.
type Reconciler struct {
	id    string
	kv    KVClient
	ct    ChangeTransfer
	store ChangeStore

	uid, gid uint32

	scratchDir string

	mu        sync.Mutex
	nextInode uint64
	dcache    map[string][]*types.NodeInfo
	rcache    map[string]types.RcacheEntry
	fusetl    map[string]types.Redirect
	syncCache map[string][]syncEntry
	scratch   map[string]*os.File

	ticker *time.Ticker
	stopCh chan struct{}

	logger zerolog.Logger
}

// New creates a Reconciler for node id. Files opened for write are
// buffered under scratchDir until release converts them into a
// permanent blob.
func New(id string, kv KVClient, ct ChangeTransfer, store ChangeStore, uid, gid uint32, scratchDir string) *Reconciler {
	r := &Reconciler{
		id:         id,
		kv:         kv,
		ct:         ct,
		store:      store,
		uid:        uid,
		gid:        gid,
		scratchDir: scratchDir,
		dcache:     make(map[string][]*types.NodeInfo),
		rcache:     make(map[string]types.RcacheEntry),
		fusetl:     make(map[string]types.Redirect),
		syncCache:  make(map[string][]syncEntry),
		scratch:    make(map[string]*os.File),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("reconciler"),
	}
	r.makeDirectories("/", types.StateClean)
	return r
}

// Start begins the periodic tick loop on its own goroutine.
func (r *Reconciler) Start(interval time.Duration) {
	r.ticker = time.NewTicker(interval)
	go r.run()
}

// Stop ends the tick loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	r.logger.Info().Msg("reconciler started")
	for {
		select {
		case <-r.ticker.C:
			r.Tick()
		case <-r.stopCh:
			r.ticker.Stop()
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// SyncQueueDepth returns the total number of queued mutations across
// all sync-cache entries, for pkg/metrics.
func (r *Reconciler) SyncQueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	depth := 0
	for _, q := range r.syncCache {
		depth += len(q)
	}
	return depth
}

// Tick drains the head of every sync-cache queue to C3. Promotion of
// pending dcache entries to clean (step 2 of spec.md §4.7's tick
// algorithm) and reaping of dead/novel entries whose mutation has
// committed (step 3) both happen immediately as commit and arrival
// notifications fire, rather than being polled here; those
// notifications already run on the same single-threaded event loop
// this tick does, so polling again would just re-check state that
// hasn't changed since the last notification.
func (r *Reconciler) Tick() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	for p, queue := range r.syncCache {
		if len(queue) == 0 {
			continue
		}
		head := queue[0]
		switch head.Kind {
		case types.ActionAdd:
			r.kv.Add(head.Key, head.NewVersion)
		case types.ActionUpdate:
			r.kv.Update(head.Key, head.OldVersion, head.NewVersion)
		case types.ActionDelete:
			r.kv.Delete(head.Key, head.OldVersion)
		case types.ActionRename:
			if ni, ok := r.get(p); ok && ni.State == types.StateDead {
				r.kv.Rename(head.Key, EncodePath(head.RenamePeer), head.NewVersion)
			}
		}
	}
}

func splitPath(p string) (dir, base string) {
	return path.Dir(p), path.Base(p)
}

// get looks up the dcache entry for path p, including the root and
// any directory's own "." self entry.
func (r *Reconciler) get(p string) (*types.NodeInfo, bool) {
	if p == "" || p == "/" {
		for _, ni := range r.dcache["/"] {
			if ni.Name == "." {
				return ni, true
			}
		}
		return nil, false
	}
	if entries, ok := r.dcache[p]; ok {
		for _, ni := range entries {
			if ni.Name == "." {
				return ni, true
			}
		}
	}
	dir, base := splitPath(p)
	for _, ni := range r.dcache[dir] {
		if ni.Name == base {
			return ni, true
		}
	}
	return nil, false
}

// makeDirectories ensures every path component up to p exists in the
// dcache, creating any missing ones in newDirState (StateClean for
// locally-issued mkdir/root-init, StateNovel for the silent
// parent-directory creation policy of spec.md §4.7).
func (r *Reconciler) makeDirectories(p string, newDirState types.NodeState) {
	if _, ok := r.dcache["/"]; !ok {
		self := &types.NodeInfo{Name: ".", Kind: types.KindDir, State: types.StateClean, Inode: r.nextInode}
		r.nextInode++
		r.dcache["/"] = []*types.NodeInfo{self}
	}
	if p == "" || p == "/" {
		return
	}

	cur := "/"
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		parent := cur
		cur = path.Join(cur, part)
		if _, ok := r.dcache[cur]; ok {
			continue
		}
		child := &types.NodeInfo{Name: part, Kind: types.KindDir, State: newDirState, Inode: r.nextInode}
		self := &types.NodeInfo{Name: ".", Kind: types.KindDir, State: newDirState, Inode: r.nextInode}
		r.nextInode++
		r.dcache[parent] = append(r.dcache[parent], child)
		r.dcache[cur] = []*types.NodeInfo{self}
	}
}

// cleanDirectories removes tombstoned entries along p's ancestry and,
// once a directory holds nothing but its own "." entry, removes the
// directory marker itself, recursing upward.
func (r *Reconciler) cleanDirectories(p string) {
	for p != "/" && p != "" {
		entries, ok := r.dcache[p]
		if !ok {
			return
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.State != types.StateDead {
				filtered = append(filtered, e)
			}
		}
		r.dcache[p] = filtered

		if len(filtered) != 1 {
			return
		}

		delete(r.dcache, p)
		parent := path.Dir(p)
		base := path.Base(p)
		if parentEntries, ok := r.dcache[parent]; ok {
			r.dcache[parent] = removeByName(parentEntries, base)
		}
		p = parent
	}
}

func removeByName(list []*types.NodeInfo, name string) []*types.NodeInfo {
	out := list[:0]
	for _, e := range list {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Reconciler) removeDcacheEntry(p string) {
	dir, base := splitPath(p)
	r.dcache[dir] = removeByName(r.dcache[dir], base)
	delete(r.rcache, p)
	delete(r.fusetl, p)
}

func (r *Reconciler) popSyncCache(p string) {
	q := r.syncCache[p]
	if len(q) == 0 {
		return
	}
	q = q[1:]
	if len(q) == 0 {
		delete(r.syncCache, p)
	} else {
		r.syncCache[p] = q
	}
}
