// Package arrow serializes Arrow records to the IPC stream format. The
// inspect server uses it to ship peer and proposal snapshots.
package arrow
