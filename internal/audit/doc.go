// Package audit relays security events (sign-in, refresh, logout) to a sink
// without blocking the request path.
//
// [Dispatcher] owns a buffered channel and one goroutine. With DropIfFull
// set, a full buffer drops the event and counts it; otherwise Emit waits
// for room or for the caller's context.
//
// The package decides nothing about which events exist. The engine names
// them.
package audit
