package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the gateway's cache backend. Get reports (entry, true, nil) when key is present
// regardless of age; freshness is decided by the caller via Entry.Fresh.
// ttlHint lets backends with their own expiry bound storage; it never shortens freshness.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttlHint time.Duration) error
}

// Entry is a cached, already-normalized payload.
type Entry struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"storedAt"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}

// InMemoryStore keeps entries in a map for the life of the process. Entries are never evicted;
// stale ones are overwritten on the next successful fetch.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]Entry),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[key]
	return entry, ok, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key string, entry Entry, ttlHint time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry
	return nil
}

// Len returns the number of stored keys.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
