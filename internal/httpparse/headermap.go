package httpparse

import (
	"strings"

	"github.com/kalamay/crux/internal/rhmap"
)

// headerEntry preserves the first-seen case of a header name plus all
// values collected under it, in insertion order.
type headerEntry struct {
	name   string
	values []string
}

// HeaderMap collects parsed header (and trailer) fields under
// case-insensitive names, backed by internal/rhmap.Map rather than a
// bare Go map so the tiered hashmap sees real use outside the DNS
// cache. The C source's opaque-key-plus-predicate design collapses
// to a plain `rhmap.Map[string, *headerEntry]` keyed by the
// lower-cased name: a string is already comparable, so no secondary
// ring buffer or case-folding hash function is needed to get
// case-insensitive lookup — ToLower on insert and lookup is
// sufficient.
type HeaderMap struct {
	m *rhmap.Map[string, *headerEntry]
}

// NewHeaderMap constructs an empty HeaderMap.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{m: rhmap.New[string, *headerEntry](hashString, 0.85, 8)}
}

func hashString(s string) uint64 {
	// FNV-1a, matching the cache key hash used by internal/dns.
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Add records one name/value pair, preserving the first-seen case of
// name and appending to any existing values under it.
func (hm *HeaderMap) Add(name, value string) {
	key := strings.ToLower(name)
	if e, ok := hm.m.Get(key); ok {
		e.values = append(e.values, value)
		return
	}
	hm.m.Reserve(key, &headerEntry{name: name, values: []string{value}})
}

// Get returns the first value recorded under name, case-insensitively.
func (hm *HeaderMap) Get(name string) (string, bool) {
	e, ok := hm.m.Get(strings.ToLower(name))
	if !ok || len(e.values) == 0 {
		return "", false
	}
	return e.values[0], true
}

// Values returns every value recorded under name, in insertion order.
func (hm *HeaderMap) Values(name string) []string {
	e, ok := hm.m.Get(strings.ToLower(name))
	if !ok {
		return nil
	}
	return e.values
}

// Names returns every distinct header name, in its first-seen case.
func (hm *HeaderMap) Names() []string {
	var names []string
	hm.m.Each(func(_ string, e *headerEntry) bool {
		names = append(names, e.name)
		return true
	})
	return names
}

// Reset clears every recorded field, for reuse across messages on a
// persistent connection.
func (hm *HeaderMap) Reset() {
	hm.m.Clear()
}
