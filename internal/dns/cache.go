// Package dns implements a resource-record cache and a stateless UDP
// resolver, grounded on the original C source's dnsc.c lazy-expiry
// cache and resolv.c retry/rotate query loop, with the wire codec
// itself delegated to github.com/miekg/dns rather than hand-rolled.
package dns

import (
	"time"

	"github.com/kalamay/crux/clock"
	"github.com/kalamay/crux/internal/metrics"
	"github.com/kalamay/crux/internal/rhmap"
	"github.com/miekg/dns"
)

// cacheKey identifies a cached record set by query name and RR type,
// matching the original C source's (name, type) lookup key.
type cacheKey struct {
	Name string
	Type uint16
}

// cacheEntry holds one cached resource record plus the bookkeeping
// needed to lazily expire it on lookup.
type cacheEntry struct {
	RR       dns.RR
	Inserted clock.Time
	TTL      time.Duration
}

func hashKey(k cacheKey) uint64 {
	// FNV-1a over the name and the big-endian type, matching the
	// header-map hash shape used for the HTTP field table.
	var h uint64 = 1469598103934665603
	for i := 0; i < len(k.Name); i++ {
		h ^= uint64(k.Name[i])
		h *= 1099511628211
	}
	h ^= uint64(k.Type >> 8)
	h *= 1099511628211
	h ^= uint64(k.Type & 0xff)
	h *= 1099511628211
	return h
}

// Cache is a tiered-map-backed DNS record cache with TTL-based lazy
// expiry: an entry past its TTL is treated as absent and
// opportunistically evicted on the next lookup.
type Cache struct {
	m     *rhmap.Map[cacheKey, *cacheEntry]
	clock clock.Clock
}

// NewCache constructs an empty Cache reading time from clk.
func NewCache(clk clock.Clock) *Cache {
	return &Cache{
		m:     rhmap.New[cacheKey, *cacheEntry](hashKey, 0, 16),
		clock: clk,
	}
}

// SetMetrics attaches a counter sink for the backing map.
func (c *Cache) SetMetrics(m *metrics.RHMap) { c.m.SetMetrics(m) }

// Get returns the cached record for (name, rtype), or ok=false if
// absent or expired. An expired hit is deleted before returning.
func (c *Cache) Get(name string, rtype uint16) (dns.RR, bool) {
	key := cacheKey{Name: name, Type: rtype}
	e, ok := c.m.Get(key)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.Inserted) >= e.TTL {
		c.m.Delete(key)
		return nil, false
	}
	return e.RR, true
}

// Insert upserts every answer, authority, and additional record of
// msg into the cache, in that order, matching dnsc.c's section
// iteration order. A later upsert of the same (name, type) replaces
// the earlier entry outright: there is no manual free, the prior
// *cacheEntry simply becomes unreachable and is reclaimed by the GC.
func (c *Cache) Insert(msg *dns.Msg) {
	now := c.clock.Now()
	insertAll(c.m, now, msg.Answer)
	insertAll(c.m, now, msg.Ns)
	insertAll(c.m, now, msg.Extra)
}

func insertAll(m *rhmap.Map[cacheKey, *cacheEntry], now clock.Time, rrs []dns.RR) {
	for _, rr := range rrs {
		hdr := rr.Header()
		key := cacheKey{Name: hdr.Name, Type: hdr.Rrtype}
		m.Reserve(key, &cacheEntry{
			RR:       rr,
			Inserted: now,
			TTL:      time.Duration(hdr.Ttl) * time.Second,
		})
	}
}

// Count returns the number of live entries, without pruning expired
// ones (expiry is lookup-driven, not background-swept).
func (c *Cache) Count() int { return c.m.Count() }
