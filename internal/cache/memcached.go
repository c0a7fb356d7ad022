package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather-gateway:"

// maxRelativeExpiry is the largest relative expiration memcached accepts; larger values are
// read as absolute unix timestamps.
const maxRelativeExpiry = 30 * 24 * 60 * 60

// MemcachedStore implements Store on memcached. Entries are JSON-encoded with their StoredAt
// so freshness is judged by the gateway clock, not by memcached expiry.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// itemKey prefixes k and replaces characters memcached rejects in keys.
func itemKey(k string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

// expirySeconds converts ttlHint to a relative memcached expiration. Zero means no expiry.
func expirySeconds(ttlHint time.Duration) int32 {
	sec := int64(ttlHint.Seconds())
	if sec <= 0 {
		return 0
	}
	if sec > maxRelativeExpiry {
		return maxRelativeExpiry
	}
	return int32(sec)
}

// Get returns (Entry{}, false, nil) on a miss and (Entry{}, false, err) on backend failure.
func (s *MemcachedStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	item, err := s.client.Get(itemKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (s *MemcachedStore) Set(ctx context.Context, key string, entry Entry, ttlHint time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := s.client.Set(&memcache.Item{
		Key:        itemKey(key),
		Value:      raw,
		Expiration: expirySeconds(ttlHint),
	}); err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
