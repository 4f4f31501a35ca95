package reconciler

import (
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/arkestra/ravel/pkg/types"
)

// Getattr returns a snapshot of the dcache entry at p, or ENOENT.
func (r *Reconciler) Getattr(p string) (*types.NodeInfo, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ni, ok := r.get(p)
	if !ok {
		return nil, ENOENT
	}
	return ni.Clone(), 0
}

// Mkdir creates a directory locally. Directory creation is not
// synced through the sync-cache queue on its own; it becomes visible
// to other nodes as a byproduct of the first file added beneath it
// (spec.md §4.7's silent-parent-creation policy runs in the other
// direction, from remote commit to local dcache).
func (r *Reconciler) Mkdir(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.get(p); ok {
		return EEXIST
	}
	dir, _ := splitPath(p)
	if _, ok := r.get(dir); !ok {
		return ENOENT
	}
	r.makeDirectories(p, types.StateClean)
	return 0
}

// Rmdir removes an empty directory.
func (r *Reconciler) Rmdir(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ni, ok := r.get(p)
	if !ok {
		return ENOENT
	}
	if ni.Kind != types.KindDir {
		return ENOTDIR
	}
	if entries := r.dcache[p]; len(entries) > 1 {
		return ENOTEMPTY
	}
	delete(r.dcache, p)
	r.removeDcacheEntry(p)
	return 0
}

// Create opens a new file for write, buffering content in a scratch
// file until Release persists it.
func (r *Reconciler) Create(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.get(p); ok {
		return EEXIST
	}
	dir, base := splitPath(p)
	if _, ok := r.get(dir); !ok {
		return ENOENT
	}

	f, err := os.CreateTemp(r.scratchDir, "ravel-scratch-*")
	if err != nil {
		r.logger.Error().Err(err).Str("path", p).Msg("failed to create scratch file")
		return EIO
	}

	ni := &types.NodeInfo{
		Name:        base,
		Kind:        types.KindFile,
		State:       types.StateActiveWrite,
		OpenHandles: 1,
		Scratch:     f.Name(),
	}
	r.dcache[dir] = append(r.dcache[dir], ni)
	r.scratch[p] = f
	return 0
}

// Open opens an existing file. Reads pin the file's current version
// into the fuse translation table so subsequent reads on this handle
// keep seeing it even across a superseding commit (spec.md §8
// "Open-handle stability").
func (r *Reconciler) Open(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ni, ok := r.get(p)
	if !ok {
		return ENOENT
	}
	if ni.Kind == types.KindDir {
		return EISDIR
	}
	ni.OpenHandles++
	r.fusetl[p] = types.Redirect{Target: types.TargetDcache, Key: EncodePath(p), Version: ni.Version}
	return 0
}

// Write writes data into an active scratch file at offset.
func (r *Reconciler) Write(p string, data []byte, offset int64) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.scratch[p]
	if !ok {
		return 0, EBADF
	}
	n, err := f.WriteAt(data, offset)
	if err != nil {
		r.logger.Error().Err(err).Str("path", p).Msg("scratch write failed")
		return n, EIO
	}
	return n, 0
}

// Truncate resizes a file to size, copying its current committed
// content into a fresh scratch buffer if it isn't already open for
// write.
func (r *Reconciler) Truncate(p string, size int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ni, ok := r.get(p)
	if !ok {
		return ENOENT
	}
	if ni.Kind == types.KindDir {
		return EISDIR
	}

	f, active := r.scratch[p]
	if !active {
		var err error
		f, err = r.beginLocalWrite(p, ni)
		if err != nil {
			r.logger.Error().Err(err).Str("path", p).Msg("failed to begin local write for truncate")
			return EIO
		}
	}
	if err := f.Truncate(size); err != nil {
		return EIO
	}
	return 0
}

// beginLocalWrite opens a scratch file seeded with ni's current
// committed content, marking ni active_write. Used by operations that
// mutate an already-closed file (Truncate) without an intervening
// Create/Open+Write pair.
func (r *Reconciler) beginLocalWrite(p string, ni *types.NodeInfo) (*os.File, error) {
	f, err := os.CreateTemp(r.scratchDir, "ravel-scratch-*")
	if err != nil {
		return nil, err
	}
	if ni.Version != "" {
		key := EncodePath(p)
		if r.store.ExistsVersion(key, ni.Version) {
			src, err := os.Open(r.store.Path(key, ni.Version))
			if err == nil {
				io.Copy(f, src)
				src.Close()
			}
		}
	}
	ni.State = types.StateActiveWrite
	ni.Scratch = f.Name()
	r.scratch[p] = f
	return f, nil
}

// Read resolves p's active version (following any fusetl/rcache pin)
// and returns the requested slice of its blob content.
func (r *Reconciler) Read(p string, size int, offset int64) ([]byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, version, ok := r.resolveReadVersion(p)
	if !ok {
		return nil, ENOENT
	}
	if !r.store.ExistsVersion(key, version) {
		return nil, EIO
	}

	f, err := os.Open(r.store.Path(key, version))
	if err != nil {
		return nil, EIO
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, EIO
	}
	return buf[:n], 0
}

func (r *Reconciler) resolveReadVersion(p string) (key, version string, ok bool) {
	if redirect, pinned := r.fusetl[p]; pinned {
		switch redirect.Target {
		case types.TargetRcache:
			if entry, ok := r.rcache[p]; ok {
				return entry.Key, entry.Version, true
			}
		case types.TargetDcache:
			return redirect.Key, redirect.Version, true
		}
	}
	ni, exists := r.get(p)
	if !exists {
		return "", "", false
	}
	return EncodePath(p), ni.Version, true
}

// Release closes a file handle, persisting any buffered write and
// enqueueing it for submission to C3.
func (r *Reconciler) Release(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ni, ok := r.get(p)
	if !ok {
		return ENOENT
	}

	if f, active := r.scratch[p]; active {
		if err := r.finalizeWrite(p, ni, f); err != nil {
			r.logger.Error().Err(err).Str("path", p).Msg("failed to finalize write on release")
			return EIO
		}
		delete(r.scratch, p)
	}

	if ni.OpenHandles > 0 {
		ni.OpenHandles--
	}
	if ni.OpenHandles == 0 {
		delete(r.fusetl, p)
		delete(r.rcache, p)
	}
	return 0
}

// finalizeWrite persists a scratch file's content as a new blob
// version and enqueues the corresponding Add/Update mutation.
func (r *Reconciler) finalizeWrite(p string, ni *types.NodeInfo, f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return err
	}
	scratchName := f.Name()
	f.Close()
	os.Remove(scratchName)

	key := EncodePath(p)
	newVersion := uuid.NewString()

	blobPath, err := r.store.Add(key, newVersion)
	if err != nil {
		return err
	}
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return err
	}

	wasNovel := ni.Version == ""
	entry := syncEntry{Key: key, NewVersion: newVersion}
	if wasNovel {
		entry.Kind = types.ActionAdd
	} else {
		entry.Kind = types.ActionUpdate
		entry.OldVersion = ni.Version
	}
	r.syncCache[p] = append(r.syncCache[p], entry)

	ni.PreviousVersion = ni.Version
	ni.Version = newVersion
	ni.Scratch = ""
	if ni.OpenHandles > 1 {
		ni.State = types.StateActiveRead
	} else {
		ni.State = types.StateDirty
	}
	return nil
}

// Unlink removes a file, queuing its deletion for submission to C3.
func (r *Reconciler) Unlink(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ni, ok := r.get(p)
	if !ok {
		return ENOENT
	}
	if ni.Kind == types.KindDir {
		return EISDIR
	}

	ni.State = types.StateDead
	r.syncCache[p] = append(r.syncCache[p], syncEntry{
		Kind:       types.ActionDelete,
		Key:        EncodePath(p),
		OldVersion: ni.Version,
	})
	return 0
}

// Rename moves a file or directory locally, establishing the rename
// signpost: the source entry goes dead pointing at the destination,
// and a novel destination entry points back at the source. Both
// halves queue a syncEntry sharing RenamePeer so completion can be
// recognized by commit.go regardless of commit ordering.
func (r *Reconciler) Rename(from, to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	srcNi, ok := r.get(from)
	if !ok {
		return ENOENT
	}
	if _, exists := r.get(to); exists {
		return EEXIST
	}
	toDir, toBase := splitPath(to)
	if _, ok := r.get(toDir); !ok {
		return ENOENT
	}

	srcNi.State = types.StateDead
	srcNi.Rename = &types.RenameInfo{Path: to}

	dstNi := &types.NodeInfo{
		Name:    toBase,
		Kind:    srcNi.Kind,
		State:   types.StateNovel,
		Version: srcNi.Version,
		Rename:  &types.RenameInfo{Path: from},
	}
	r.dcache[toDir] = append(r.dcache[toDir], dstNi)

	entry := syncEntry{
		Kind:       types.ActionRename,
		Key:        EncodePath(from),
		NewVersion: srcNi.Version,
		RenamePeer: to,
	}
	r.syncCache[from] = append(r.syncCache[from], entry)
	r.syncCache[to] = append(r.syncCache[to], syncEntry{
		Kind:       types.ActionRename,
		Key:        EncodePath(from),
		NewVersion: srcNi.Version,
		RenamePeer: from,
	})
	return 0
}

// Readdir lists the live (non-dead) entries of directory p.
func (r *Reconciler) Readdir(p string) ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ni, ok := r.get(p)
	if !ok {
		return nil, ENOENT
	}
	if ni.Kind != types.KindDir {
		return nil, ENOTDIR
	}

	var names []string
	for _, e := range r.dcache[p] {
		if e.State == types.StateDead {
			continue
		}
		names = append(names, e.Name)
	}
	return names, 0
}

// Flush fsyncs an active scratch file, if any. It performs no
// persistence of its own; that happens on Release.
func (r *Reconciler) Flush(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.scratch[p]
	if !ok {
		return 0
	}
	if err := f.Sync(); err != nil {
		return EIO
	}
	return 0
}
