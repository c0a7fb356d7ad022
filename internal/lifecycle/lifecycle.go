// Package lifecycle holds process-wide drain state shared by main and the health handler.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown marks the gateway as draining. main sets it on SIGINT/SIGTERM before closing
// the listener.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether /health should answer 503 "shutting-down".
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
