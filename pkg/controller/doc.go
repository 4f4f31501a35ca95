// Package controller is C4. See controller.go for the event loop,
// envelope dispatch, and timer-jitter responsibilities; this file
// holds only doc comments.
//
// The original daemon's raftctl/dispatch split is kept deliberately:
// raftstate only ever *asks* for a timeout kind via RequestTimeout,
// never touches time.Timer itself, and every inbound envelope is
// decoded here rather than by raftstate or kvclient directly.
package controller
