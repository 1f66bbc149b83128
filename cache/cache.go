// Package cache implements the TTL-based resolution cache used by the
// polling chat adapter. It combines an in-memory map with an optional
// durable backing store so that resolved channel identities survive process
// restarts, and it supports short-lived negative entries that suppress
// repeated lookups after a failed resolution.
//
// The cache is safe for concurrent use by multiple channel adapters; writes
// are last-writer-wins with no cross-key ordering guarantee.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sdingwan/combined-chat/telemetry"
)

// Store is an optional durable shadow for cache entries. Reads check memory
// first and fall back to the store, promoting hits back into memory; writes
// and invalidations go to both. The cache behaves correctly without one.
type Store interface {
	Get(ctx context.Context, key string) (value string, expiresAt time.Time, err error)
	Put(ctx context.Context, key, value string, expiresAt time.Time) error
	Delete(ctx context.Context, keys ...string) error
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a keyed cache with per-entry expiry and negative caching.
// Keys are case-insensitive (lowercased on every operation).
type TTLCache[V any] struct {
	ttl         time.Duration
	negativeTTL time.Duration

	mu       sync.Mutex
	entries  map[string]entry[V]
	negative map[string]time.Time

	store       Store
	storePrefix string
	now         func() time.Time
}

// Option configures a TTLCache.
type Option[V any] func(*TTLCache[V])

// WithStore attaches a durable backing store.
func WithStore[V any](s Store) Option[V] {
	return func(c *TTLCache[V]) { c.store = s }
}

// WithStorePrefix namespaces durable store keys so caches holding different
// value types can share one store without colliding. Memory keys are
// per-instance and stay unprefixed.
func WithStorePrefix[V any](prefix string) Option[V] {
	return func(c *TTLCache[V]) { c.storePrefix = prefix }
}

// WithClock overrides the time source (tests).
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTLCache[V]) { c.now = now }
}

// New returns a cache whose positive entries live for ttl and whose
// negative marks live for negativeTTL.
func New[V any](ttl, negativeTTL time.Duration, opts ...Option[V]) *TTLCache[V] {
	c := &TTLCache[V]{
		ttl:         ttl,
		negativeTTL: negativeTTL,
		entries:     make(map[string]entry[V]),
		negative:    make(map[string]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and unexpired. Expired
// entries are evicted lazily. On a memory miss the durable store is
// consulted and a hit is promoted into memory with its remaining TTL.
func (c *TTLCache[V]) Get(ctx context.Context, key string) (V, bool) {
	key = normalize(key)
	var zero V
	if key == "" {
		return zero, false
	}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.expiresAt.After(now) {
			c.mu.Unlock()
			countHit()
			return e.value, true
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.store == nil {
		countMiss()
		return zero, false
	}
	raw, expiresAt, err := c.store.Get(ctx, c.storePrefix+key)
	if err != nil {
		slog.Debug("cache store read failed", slog.String("key", key), slog.Any("err", err))
		countMiss()
		return zero, false
	}
	if raw == "" || !expiresAt.After(now) {
		countMiss()
		return zero, false
	}
	var v V
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Debug("cache store entry undecodable", slog.String("key", key), slog.Any("err", err))
		countMiss()
		return zero, false
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()
	countHit()
	return v, true
}

func countHit() {
	if telemetry.CacheHits != nil {
		telemetry.CacheHits.Inc()
	}
}

func countMiss() {
	if telemetry.CacheMisses != nil {
		telemetry.CacheMisses.Inc()
	}
}

// Put stores value under key and every alias with a fresh expiry,
// unconditionally overwriting prior entries and clearing negative marks.
func (c *TTLCache[V]) Put(ctx context.Context, key string, value V, aliases ...string) {
	keys := normalizeAll(append([]string{key}, aliases...))
	if len(keys) == 0 {
		return
	}
	expiresAt := c.now().Add(c.ttl)

	c.mu.Lock()
	for _, k := range keys {
		c.entries[k] = entry[V]{value: value, expiresAt: expiresAt}
		delete(c.negative, k)
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Debug("cache value not serializable", slog.String("key", keys[0]), slog.Any("err", err))
		return
	}
	for _, k := range keys {
		if err := c.store.Put(ctx, c.storePrefix+k, string(raw), expiresAt); err != nil {
			slog.Debug("cache store write failed", slog.String("key", k), slog.Any("err", err))
		}
	}
}

// NegativeMark records that resolving key recently failed. Until the
// negative TTL elapses (or the key is invalidated or re-put), Negatived
// reports true and callers skip the upstream lookup.
func (c *TTLCache[V]) NegativeMark(key string) {
	key = normalize(key)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.negative[key] = c.now().Add(c.negativeTTL)
	c.mu.Unlock()
}

// Negatived reports whether key currently carries an unexpired negative mark.
func (c *TTLCache[V]) Negatived(key string) bool {
	key = normalize(key)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.negative[key]
	if !ok {
		return false
	}
	if !deadline.After(c.now()) {
		delete(c.negative, key)
		return false
	}
	return true
}

// Invalidate removes key and all aliases immediately, bypassing TTL. Both
// positive entries and negative marks are cleared, in memory and in the
// durable store.
func (c *TTLCache[V]) Invalidate(ctx context.Context, key string, aliases ...string) {
	keys := normalizeAll(append([]string{key}, aliases...))
	if len(keys) == 0 {
		return
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
		delete(c.negative, k)
	}
	c.mu.Unlock()

	if c.store != nil {
		prefixed := make([]string, len(keys))
		for i, k := range keys {
			prefixed[i] = c.storePrefix + k
		}
		if err := c.store.Delete(ctx, prefixed...); err != nil {
			slog.Debug("cache store delete failed", slog.Any("err", err))
		}
	}
}

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func normalizeAll(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if n := normalize(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}
