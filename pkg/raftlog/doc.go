/*
Package raftlog implements Ravel's durable, append-only Raft journal:
term markers, votes, replicated entries, and commit markers, one JSON
record per line.

Log is the single source of truth pkg/raftstate drives: Append* methods
validate against the rules in spec.md §4.1 before mutating in-memory
state and persisting, Match implements the Raft log-matching property
against each entry's term, and Open replays the file from
scratch on startup, applying the same validity rules with callbacks
suppressed.

A structural violation during replay is unrecoverable: the caller
aborts the daemon rather than starting from a log it cannot trust.
*/
package raftlog
