// Package monitoring provides metrics and observability.
// This package implements:
// - Prometheus metrics fed by the node coordinator
// - Health checks
// - A websocket stream of display events
package monitoring
