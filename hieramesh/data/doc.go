// Package data defines the Apache Arrow schemas used to export node state
// and converts peer and proposal snapshots to and from Arrow records.
package data
