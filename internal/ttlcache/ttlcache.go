// Package ttlcache is a generic per-entry-expiry store used to back the ARP
// cache's forward map (spec.md §4.2). It wraps jellydator/ttlcache/v3 for
// the concurrent-map bookkeeping, matching the teacher's
// controlplane/telemetry data-provider usage of the same library, but
// decides expiry against a caller-supplied deterministic Instant rather than
// the library's own wall-clock timers: the engine's time only ever advances
// via an external advance_clock(now) tick, so entries are given an
// effectively-unbounded library TTL and this package tracks the real
// deadline itself.
package ttlcache

import (
	"sort"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kestrelnet/uswire/internal/clock"
)

type record[V any] struct {
	value    V
	expireAt clock.Instant
}

// Cache is a generic store mapping K to V, each entry carrying its own
// expiry Instant.
type Cache[K comparable, V any] struct {
	mu sync.Mutex
	tc *ttlcache.Cache[K, record[V]]
}

// New constructs an empty Cache. The library's own background janitor is
// never started (no Start() call) since eviction here is driven entirely by
// Evict/ForceEvict against the caller's clock.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		tc: ttlcache.New[K, record[V]](
			ttlcache.WithDisableTouchOnHit[K, record[V]](),
		),
	}
}

// Set stores value under key, expiring at now.Add(ttl).
func (c *Cache[K, V]) Set(key K, value V, now clock.Instant, ttl clock.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tc.Set(key, record[V]{value: value, expireAt: now.Add(ttl)}, ttlcache.NoTTL)
}

// Get returns the value stored under key, provided it exists and has not
// expired as of now. An expired entry is reported as a miss but is left in
// place — callers that need the reverse-index invariant to hold atomically
// across expiry should evict via Evict/ForceEvict instead of relying on Get
// to clean up.
func (c *Cache[K, V]) Get(key K, now clock.Instant) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	item := c.tc.Get(key)
	if item == nil {
		return zero, false
	}
	r := item.Value()
	if clock.AtOrAfter(now, r.expireAt) {
		return zero, false
	}
	return r.value, true
}

// Delete unconditionally removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tc.Delete(key)
}

// Len reports the number of entries stored, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tc.Len()
}

// Keys returns every key currently stored, expired or not, in no particular
// order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.tc.Items()
	keys := make([]K, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}

// Evicted is one (key, value) pair removed by Evict or ForceEvict.
type Evicted[K comparable, V any] struct {
	Key   K
	Value V
}

// Evict removes every entry expired as of now and returns them.
func (c *Cache[K, V]) Evict(now clock.Instant) []Evicted[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Evicted[K, V]
	for k, item := range c.tc.Items() {
		r := item.Value()
		if clock.AtOrAfter(now, r.expireAt) {
			out = append(out, Evicted[K, V]{Key: k, Value: r.value})
			c.tc.Delete(k)
		}
	}
	return out
}

// ForceEvict removes up to count entries, per spec.md §5's resource policy
// ("the ARP cache may force-evict up to count entries on demand"): already-
// expired entries are preferred, oldest-expiring first, then the
// soonest-to-expire survivors fill any remaining budget. Requesting count
// larger than Len() drains the cache entirely and returns every entry,
// leaving both the cache and (via the returned list) its caller's mirrored
// reverse index empty.
func (c *Cache[K, V]) ForceEvict(now clock.Instant, count int) []Evicted[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count <= 0 {
		return nil
	}

	type scored struct {
		key      K
		value    V
		expireAt clock.Instant
	}
	items := c.tc.Items()
	all := make([]scored, 0, len(items))
	for k, item := range items {
		r := item.Value()
		all = append(all, scored{key: k, value: r.value, expireAt: r.expireAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].expireAt.Before(all[j].expireAt)
	})

	if count > len(all) {
		count = len(all)
	}
	out := make([]Evicted[K, V], count)
	for i := 0; i < count; i++ {
		out[i] = Evicted[K, V]{Key: all[i].key, Value: all[i].value}
		c.tc.Delete(all[i].key)
	}
	return out
}

// Export returns every non-expired (key, value) pair as of now.
func (c *Cache[K, V]) Export(now clock.Instant) []Evicted[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Evicted[K, V]
	for k, item := range c.tc.Items() {
		r := item.Value()
		if clock.AtOrAfter(now, r.expireAt) {
			continue
		}
		out = append(out, Evicted[K, V]{Key: k, Value: r.value})
	}
	return out
}

// Import installs entries (as produced by Export), each given the same ttl
// from now. import(export(x)) == x modulo TTL (spec.md §5).
func (c *Cache[K, V]) Import(entries []Evicted[K, V], now clock.Instant, ttl clock.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.tc.Set(e.Key, record[V]{value: e.Value, expireAt: now.Add(ttl)}, ttlcache.NoTTL)
	}
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tc.DeleteAll()
}
