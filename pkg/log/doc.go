/*
Package log provides structured logging for Ravel using zerolog.

It wraps zerolog to give components (raftstate, kvclient, changestore,
reconciler, ...) a JSON-structured, level-filtered logger without each
one reaching for zerolog directly.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  Global Logger ── Init(Config) ── Level/Format/Output     │
	│        │                                                  │
	│        ▼                                                  │
	│  WithComponent("raftstate"), WithComponent("reconciler")  │
	│        │                                                  │
	│        ▼                                                  │
	│  JSON (production) or console (development) output        │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	raftLog := log.WithComponent("raftstate")
	raftLog.Info().Uint32("term", term).Msg("became leader")

Debug is verbose and development-only; Info is the default production
level; Warn/Error mark conditions spec.md §7 calls out as recoverable
(stale RPCs, dropped invalid KV requests) and should never be treated
as fatal. Fatal exits the process and is reserved for the log-recovery
failures spec.md §7 calls unrecoverable.
*/
package log
