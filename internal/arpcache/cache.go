// Package arpcache is the TTL cache specialized to IPv4↔MAC (spec.md §4.2):
// a forward ipv4 → record map backed by internal/ttlcache, plus a reverse
// mac → ipv4 index kept in lockstep, mirroring the teacher's
// liveness.ifCache dual-map (byIndex/byName) pattern.
package arpcache

import (
	"net"
	"sync"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/ttlcache"
)

// Record is spec.md's ArpCacheRecord: an (ipv4, mac) pair.
type Record struct {
	IPv4 net.IP
	MAC  net.HardwareAddr
}

// Cache is the ARP cache: forward ipv4→mac with per-entry TTL, reverse
// mac→ipv4. Invariant I2 (rmap[cache[k].mac] = k for every k) is maintained
// by every mutating method below.
type Cache struct {
	mu      sync.Mutex
	forward *ttlcache.Cache[string, Record]
	reverse map[string]string // mac.String() -> ipv4.String()
}

// New constructs an empty ARP cache.
func New() *Cache {
	return &Cache{
		forward: ttlcache.New[string, Record](),
		reverse: make(map[string]string),
	}
}

func ipKey(ip net.IP) string  { return ip.To4().String() }
func macKey(m net.HardwareAddr) string { return m.String() }

// Insert learns (ipv4, mac), expiring at now+ttl. If ipv4 was already mapped
// to a different MAC, the stale reverse entry is removed first so the
// reverse index never holds two keys for one ipv4.
func (c *Cache) Insert(ipv4 net.IP, mac net.HardwareAddr, now clock.Instant, ttl clock.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ik := ipKey(ipv4)
	if old, ok := c.forward.Get(ik, now); ok {
		delete(c.reverse, macKey(old.MAC))
	}
	c.forward.Set(ik, Record{IPv4: ipv4, MAC: mac}, now, ttl)
	c.reverse[macKey(mac)] = ik
}

// Lookup returns the MAC learned for ipv4, if present and unexpired.
func (c *Cache) Lookup(ipv4 net.IP, now clock.Instant) (net.HardwareAddr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.forward.Get(ipKey(ipv4), now)
	if !ok {
		return nil, false
	}
	return r.MAC, true
}

// ReverseLookup returns the ipv4 learned for mac, if present and unexpired.
func (c *Cache) ReverseLookup(mac net.HardwareAddr, now clock.Instant) (net.IP, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ik, ok := c.reverse[macKey(mac)]
	if !ok {
		return nil, false
	}
	r, ok := c.forward.Get(ik, now)
	if !ok {
		delete(c.reverse, macKey(mac))
		return nil, false
	}
	return r.IPv4, true
}

// ForceEvict force-evicts up to count entries (expired-or-oldest first),
// keeping the reverse index in lockstep, per spec.md §5's resource policy.
func (c *Cache) ForceEvict(now clock.Instant, count int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.forward.ForceEvict(now, count)
	out := make([]Record, 0, len(evicted))
	for _, e := range evicted {
		delete(c.reverse, macKey(e.Value.MAC))
		out = append(out, e.Value)
	}
	return out
}

// Clear empties both maps.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward.Clear()
	c.reverse = make(map[string]string)
}

// Export returns every unexpired record as of now.
func (c *Cache) Export(now clock.Instant) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.forward.Export(now)
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Import installs records, each expiring at now+ttl, rebuilding the reverse
// index for them. import(export(x)) == x modulo TTL (spec.md §5).
func (c *Cache) Import(records []Record, now clock.Instant, ttl clock.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		ik := ipKey(r.IPv4)
		c.forward.Set(ik, r, now, ttl)
		c.reverse[macKey(r.MAC)] = ik
	}
}

// Len reports the number of forward entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forward.Len()
}
