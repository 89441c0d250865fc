// Package cache implements the short-TTL key->value store (C2): a network
// backend (redis, preferred when reachable) with automatic fallback to an
// in-process map on any transport error. Both backends exchange the
// same msgpack-encoded bytes so a value written through one backend can be
// read back through the other without format drift.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the C2 capability: get(k) returns the last stored value if
// now < expiry, else nothing; set(k, v, ttl) stores with expiry now+ttl.
// Failure to reach the network backend is never surfaced as an error — the
// in-process map absorbs the write and serves subsequent reads.
type Cache struct {
	network NetworkBackend // nil disables the network tier entirely
	local   *mapBackend
	log     zerolog.Logger
}

// NetworkBackend is the narrow redis capability the cache needs. It is an
// interface rather than a concrete *redis.Client so tests can substitute a
// backend that always errors, exercising the fallback path.
type NetworkBackend interface {
	Get(ctx context.Context, key string) ([]byte, error) // returns (nil, nil) on a miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// New builds a Cache. network may be nil, in which case every operation
// goes straight to the in-process map (used in tests and when REDIS_URL is
// unset).
func New(network NetworkBackend, log zerolog.Logger) *Cache {
	return &Cache{
		network: network,
		local:   newMapBackend(),
		log:     log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the decoded value and true if a fresh entry exists. A network
// transport error is logged at debug level and treated as a full miss on
// that tier, falling through to the local map rather than propagating.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	if c.network != nil {
		raw, err := c.network.Get(ctx, key)
		switch {
		case err == nil && raw != nil:
			if decErr := msgpack.Unmarshal(raw, out); decErr != nil {
				return false, decErr
			}
			return true, nil
		case err != nil:
			c.log.Debug().Err(err).Str("key", key).Msg("cache network backend unreachable, falling back to in-process map")
		}
	}

	raw, ok := c.local.get(key)
	if !ok {
		return false, nil
	}
	if err := msgpack.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key with the given ttl. The in-process map always
// receives the write; the network backend receives it too when reachable,
// but a network failure here is absorbed, not returned to the caller.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	c.local.set(key, raw, ttl)

	if c.network != nil {
		if err := c.network.Set(ctx, key, raw, ttl); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("cache network backend write failed, in-process map absorbed it")
		}
	}
	return nil
}

// StreamKey builds the hot-stream cache key: base:{user_id}:{stream_type}:{symbol|"all"}.
func StreamKey(userID int64, streamType, symbol string) string {
	if symbol == "" {
		symbol = "all"
	}
	return "base:" + itoa(userID) + ":" + streamType + ":" + symbol
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// mapBackend is a TTL-aware in-process map. It is the cache's fallback tier
// and, for tests with no network backend configured, the entire cache.
// Expired entries are removed only when read; the map has no size limit.
type mapBackend struct {
	mu      sync.Mutex
	entries map[string]mapEntry
}

type mapEntry struct {
	value  []byte
	expiry time.Time
}

func newMapBackend() *mapBackend {
	return &mapBackend{entries: make(map[string]mapEntry)}
}

func (m *mapBackend) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *mapBackend) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = mapEntry{value: value, expiry: time.Now().Add(ttl)}
}
