package transport

import "errors"

// ErrPeerNotConnected is returned by Send when the named peer has no
// live connection. Callers log this and move on (spec.md §7);
// it is never treated as fatal.
var ErrPeerNotConnected = errors.New("transport: peer not connected")
