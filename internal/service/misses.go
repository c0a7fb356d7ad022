package service

import "sync"

// missTracker counts upstream fetches in progress per cache key. Concurrent misses on one key
// are not coalesced: each fetches and the last write wins. The count only feeds
// the cacheStampedeTotal metric.
type missTracker struct {
	mu      sync.Mutex
	pending map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{pending: make(map[string]int)}
}

// begin registers a fetch for key and returns how many are now in progress, itself included.
// Every begin must be paired with end.
func (m *missTracker) begin(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key]++
	return m.pending[key]
}

// end marks one fetch for key as finished.
func (m *missTracker) end(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch n := m.pending[key]; {
	case n > 1:
		m.pending[key] = n - 1
	case n == 1:
		delete(m.pending, key)
	}
}

// inFlight returns the fetches in progress for key.
func (m *missTracker) inFlight(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[key]
}
