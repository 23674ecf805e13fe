// Package api serves read-only snapshots of a running node over framed TCP.
//
// A client opens a connection and sends an AuthMessage, then any number of
// Request frames. Peer and proposal snapshots come back as Arrow IPC
// streams; status comes back as JSON. Nothing the server exposes mutates
// node state.
package api
