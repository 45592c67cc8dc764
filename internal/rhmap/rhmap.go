// Package rhmap implements a tiered robin-hood open-addressed map,
// grounded directly on the original C source's hashtier.h
// (probe/start/step macros) and map.c (the two-field entry wrapper
// and resize/condense call shape). Where the source threads a raw
// byte-key and a user equality callback through void pointers, the Go
// realization uses a generic comparable key instead: a lower-cased
// string for the HTTP header map and a small struct tuple for the DNS
// cache key both satisfy comparable directly, so the "opaque key +
// predicate" escape hatch the C source needs never becomes necessary
// here.
package rhmap

import (
	"github.com/kalamay/crux"
	"github.com/kalamay/crux/internal/metrics"
)

// Hasher produces the raw (unmixed) hash of a key. The map mixes the
// result to guarantee it is never exactly zero, since a zero hash
// marks an empty slot.
type Hasher[K comparable] func(K) uint64

// DefaultLoadFactor is the tier-0 occupancy ratio that triggers
// growth, matching the source's default XMAP_LOADF.
const DefaultLoadFactor = 0.85

// defaultCondenseLimit bounds the per-operation migration work a
// lookup or insert performs against a draining tier-1, so no single
// call pays for the whole rehash.
const defaultCondenseLimit = 32

// Map is an ordered sequence of at most two tiers: tier0 is always
// live, tier1 (when non-nil) is the older generation being drained
// incrementally by Condense. Every key lives in exactly one tier.
type Map[K comparable, V any] struct {
	hash     Hasher[K]
	loadf    float64
	tier0    *tier[K, V]
	tier1    *tier[K, V]
	metrics  *metrics.RHMap
}

// New constructs a Map with the given hash function, load factor
// (0 selects DefaultLoadFactor), and an initial capacity hint.
func New[K comparable, V any](hash Hasher[K], loadFactor float64, hint int) *Map[K, V] {
	if loadFactor <= 0 {
		loadFactor = DefaultLoadFactor
	}
	if hint < 1 {
		hint = 8
	}
	return &Map[K, V]{
		hash:  hash,
		loadf: loadFactor,
		tier0: newTier[K, V](tierSize(hint)),
	}
}

// SetMetrics attaches a counter sink; nil disables recording.
func (m *Map[K, V]) SetMetrics(c *metrics.RHMap) { m.metrics = c }

// Count returns the number of live entries across both tiers.
func (m *Map[K, V]) Count() int {
	n := m.tier0.count
	if m.tier1 != nil {
		n += m.tier1.count
	}
	return n
}

// mix ensures a non-zero hash so the zero value can denote an empty
// slot: every hash function reserves the low bit.
func mix(raw uint64) uint64 {
	h := raw*0x9e3779b97f4a7c15 + 1
	return h | 1
}

func (m *Map[K, V]) keyHash(k K) uint64 { return mix(m.hash(k)) }

// Get returns the value for k, probing tier0 then tier1. A hit in
// tier1 opportunistically promotes the entry into tier0 if tier0 is
// below its load target.
func (m *Map[K, V]) Get(k K) (V, bool) {
	h := m.keyHash(k)
	if v, ok := m.tier0.lookup(h, k); ok {
		return v, true
	}
	if m.tier1 != nil {
		if v, ok := m.tier1.lookup(h, k); ok {
			if m.tier0.loadOf(1) < m.loadf {
				m.tier0.forceInsert(h, k, v)
				m.tier1.delete(h, k)
				if m.metrics != nil {
					m.metrics.Promotions.Add(1)
				}
				m.releaseTier1IfDrained()
			}
			return v, true
		}
	}
	return *new(V), false
}

// Has reports whether k is present without the promotion side effect.
func (m *Map[K, V]) Has(k K) bool {
	h := m.keyHash(k)
	if m.tier0.indexOf(h, k) >= 0 {
		return true
	}
	return m.tier1 != nil && m.tier1.indexOf(h, k) >= 0
}

// Reserve inserts or updates k -> v, always landing in tier0. It
// triggers a tier-0 growth/demote cycle first if tier0's load would
// exceed the configured factor, and performs bounded condense work
// against a draining tier1 if one exists. Returns whether an existing
// key's value was overwritten.
func (m *Map[K, V]) Reserve(k K, v V) bool {
	if m.tier1 != nil {
		m.Condense(defaultCondenseLimit)
	}

	h := m.keyHash(k)
	if m.tier0.loadOf(1) > m.loadf && m.tier1 == nil {
		m.growTier0()
		h = m.keyHash(k) // unchanged, but re-derive for clarity of intent
	}
	wasUpdate := m.tier0.insert(h, k, v)
	if m.metrics != nil {
		m.metrics.Inserts.Add(1)
	}
	return wasUpdate
}

// Delete removes k, checking tier0 then tier1, and reports whether it
// was present.
func (m *Map[K, V]) Delete(k K) (V, bool) {
	h := m.keyHash(k)
	if v, ok := m.tier0.delete(h, k); ok {
		if m.metrics != nil {
			m.metrics.Deletes.Add(1)
		}
		return v, true
	}
	if m.tier1 != nil {
		if v, ok := m.tier1.delete(h, k); ok {
			if m.metrics != nil {
				m.metrics.Deletes.Add(1)
			}
			m.releaseTier1IfDrained()
			return v, true
		}
	}
	return *new(V), false
}

// Clear empties the map back to an 8-slot single tier.
func (m *Map[K, V]) Clear() {
	m.tier0 = newTier[K, V](tierSize(8))
	m.tier1 = nil
}

// Resize grows or shrinks tier0's backing allocation to comfortably
// hold hint entries, rejecting a hint below the live count. Any
// existing tier1 is condensed in full first so the resize starts from
// a single tier.
func (m *Map[K, V]) Resize(hint int) error {
	if hint < m.Count() {
		return crux.NewRangeError("rhmap.Resize", "hint below live count")
	}
	for m.tier1 != nil {
		m.Condense(m.tier1.size)
	}
	want := tierSize(int(float64(hint) / m.loadf))
	if want == m.tier0.size {
		return nil
	}
	old := m.tier0
	m.tier0 = newTier[K, V](want)
	m.tier1 = old
	m.Condense(old.size)
	return nil
}

// Condense migrates up to limit live slots from tier1 into tier0 via
// forceInsert, starting from the remap watermark, and releases tier1
// once it empties. It is a no-op if there is no tier1. Returns the
// number of entries migrated.
func (m *Map[K, V]) Condense(limit int) int {
	if m.tier1 == nil {
		return 0
	}
	moved := 0
	t1 := m.tier1
	for moved < limit && t1.remap < t1.size {
		s := &t1.slots[t1.remap]
		t1.remap++
		if s.hash == 0 {
			continue
		}
		m.tier0.forceInsert(s.hash, s.key, s.val)
		t1.count--
		s.hash = 0
		moved++
		if m.metrics != nil {
			m.metrics.Condensed.Add(1)
		}
	}
	m.releaseTier1IfDrained()
	return moved
}

func (m *Map[K, V]) releaseTier1IfDrained() {
	if m.tier1 != nil && (m.tier1.count == 0 || m.tier1.remap >= m.tier1.size) {
		m.tier1 = nil
	}
}

func (m *Map[K, V]) growTier0() {
	old := m.tier0
	m.tier0 = newTier[K, V](old.size * 2)
	m.tier1 = old
	if m.metrics != nil {
		m.metrics.Rehashes.Add(1)
	}
}

// Each calls fn for every live entry across both tiers; order is
// unspecified and must not be relied upon across mutation. Returning
// false from fn stops the walk early.
func (m *Map[K, V]) Each(fn func(K, V) bool) {
	if !m.tier0.each(fn) {
		return
	}
	if m.tier1 != nil {
		m.tier1.each(fn)
	}
}
