/*
Package config loads Ravel's two bootstrap files: a YAML operational
config (data directory, control socket, log level, timer tuning) and a
JSON array of node descriptors naming the cluster's peers.

Neither file format is a product feature — the daemon has to read
*something* to find its data directory and peer list before it can
start the Raft state machine, the same way the teacher's apply command
reads a YAML manifest before talking to the API.
*/
package config
