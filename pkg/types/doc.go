/*
Package types defines the core data structures shared across Ravel's
daemon: the key-value request kinds that ride as Raft log entry
payloads, and the dcache/rcache entries the filesystem reconciliation
layer maintains.

# Architecture

	┌──────────────────── TYPES PACKAGE ───────────────────────┐
	│                                                            │
	│  KV request kinds (Action)    Version map entry           │
	│  - Add / Update               - Version, Origin            │
	│  - Delete / Rename                                         │
	│                                                            │
	│  Dcache node_info             Rcache / fuse redirect       │
	│  - Kind, State, Inode         - RcacheEntry, Redirect      │
	│  - RenameInfo, Scratch                                     │
	│                                                            │
	│  Envelope                     NodeDescriptor                │
	│  - Module, Content            - ID, Host, Port              │
	└────────────────────────────────────────────────────────────┘

These types are plain data with only small helpers (String, Address,
Clone). The packages that interpret them (raftlog, raftstate,
kvclient, reconciler) own the rules.

# Integration points

  - pkg/raftlog persists its own Record type, one per line, carrying
    an Action as each entry's payload.
  - pkg/raftstate exchanges its own AppendEntries/RequestVote RPC structs.
  - pkg/kvclient interprets Action values against a VersionEntry map.
  - pkg/reconciler owns NodeInfo and RenameInfo lifecycles; its
    sync-cache entries are its own unexported type.
  - pkg/transport carries Envelope values between peers.
*/
package types
