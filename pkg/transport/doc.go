/*
Package transport defines the Transport capability Ravel's components
use to exchange Envelope values with peers: Send/Broadcast to write,
OnMessage/OnPeerConnect/OnPeerDisconnect to subscribe.

Two implementations are provided. InProcess delivers by direct call
through a shared Hub, for tests that run several nodes in one process.
Net carries newline-delimited JSON envelopes over net.Conn and applies
the simultaneous-connect tie-break rule: when two nodes dial each other
at once, the connection on which the lexicographically smaller node id
is the dialer wins.

The concrete connection pool (retry, backoff, reconnection policy) is
out of scope; Net is a minimally conforming reference implementation,
not a production-hardened one.
*/
package transport
