/*
Package reconciler is C7: it reconciles the kernel filesystem
binding's local view of the tree against the replicated key-value
store (C3) maintained by pkg/kvclient, and fetches blob content
through pkg/changetransfer (C6) and pkg/changestore (C5) as needed.

The kernel FUSE binding is an external collaborator and is out of
scope here; this package implements the POSIX-shaped operation
surface a binding would call into (Getattr, Mkdir, Rmdir, Create,
Open, Write, Truncate, Read, Release, Unlink, Rename, Readdir, Flush),
plus the background machinery that keeps the local view in sync.

# State

Four maps track a node's view of the tree:

  - dcache: directory path to its ordered list of child NodeInfo
    entries, each directory holding a "." self entry establishing its
    own existence and inode.
  - rcache: path to a pinned (key, version) for a read handle that
    must keep seeing its original content after a superseding commit.
  - fusetl: path to a Redirect into either dcache or rcache, set at
    open time so a handle follows the version it opened against.
  - sync cache: path to a FIFO queue of local mutations not yet
    reflected in a committed entry.

# Local mutations

Create, Write and Release buffer a file's new content in a scratch
file and, on Release, persist it as a new blob version and enqueue a
syncEntry. Unlink enqueues a delete. Rename enqueues a two-sided
"signpost": the source entry goes dead pointing at the destination,
the destination is created novel pointing back at the source, and
both queue a syncEntry sharing a common peer path so either commit
order can be recognized as completing the pair.

# Reconciliation

A periodic Tick resubmits the head of every sync-cache queue to C3;
resubmission is idempotent since kvclient silently drops a stale or
already-applied action. The other two steps of reconciliation are not
polled: blob arrival (pkg/changetransfer's OnArrival callback) and
commit notification (pkg/kvclient's CommitListener) both fire
synchronously on the same event loop Tick runs on, so promoting a
pending entry to clean or reaping a dead one happens the moment the
triggering event occurs rather than on the next tick.

When a committed remote mutation conflicts with a queued local one,
the remote side always wins. The local mutation is preserved rather
than dropped: its dcache entry is renamed in place to
<path>.NNNN-NNNN (four lowercase hex digits derived from a fresh
UUID's entropy), its blob is re-keyed to match, and it is re-queued
as a new Add under the recovered path.
*/
package reconciler
