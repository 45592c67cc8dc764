package rhmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intHash(k int) uint64 { return uint64(k) }

// walk asserts the robin-hood invariant holds across every non-empty
// slot of every tier: when the slot following an occupied slot in
// probe order is itself occupied, its probe distance is at most one
// more than the occupied slot's, which is exactly what the lookup
// early-termination relies on.
func walk[K comparable, V any](t *testing.T, tr *tier[K, V]) {
	t.Helper()
	if tr == nil {
		return
	}
	for i := range tr.slots {
		s := &tr.slots[i]
		if s.hash == 0 {
			continue
		}
		next := (uint64(i) + 1) % tr.size
		ns := &tr.slots[next]
		if ns.hash == 0 {
			continue
		}
		d := tr.dist(uint64(i), s.hash)
		nd := tr.dist(next, ns.hash)
		assert.GreaterOrEqual(t, int64(d)+1, int64(nd),
			"robin-hood invariant violated at slot %d -> %d", i, next)
	}
}

func TestReserveAndGet(t *testing.T) {
	m := New[int, string](intHash, 0, 4)
	assert.False(t, m.Reserve(1, "one"))
	assert.False(t, m.Reserve(2, "two"))
	assert.True(t, m.Reserve(1, "uno")) // update

	v, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, "uno", v)

	v, ok = m.Get(2)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = m.Get(3)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Count())
}

func TestDeleteBackShift(t *testing.T) {
	m := New[int, int](intHash, 0, 4)
	for i := 1; i <= 6; i++ {
		m.Reserve(i, i*10)
	}
	walk(t, m.tier0)

	v, ok := m.Delete(3)
	require.True(t, ok)
	assert.Equal(t, 30, v)
	walk(t, m.tier0)

	for i := 1; i <= 6; i++ {
		v, ok := m.Get(i)
		if i == 3 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, i*10, v)
	}
	assert.Equal(t, 5, m.Count())
}

// TestRehashCycle inserts 1..20 at a tight load factor and small
// hint, then deletes 1..13 and inserts 21..23, asserting the
// invariant holds throughout and the final lookups are exactly right.
func TestRehashCycle(t *testing.T) {
	m := New[int, int](intHash, 0.85, 2)

	for i := 1; i <= 20; i++ {
		m.Reserve(i, i)
		walk(t, m.tier0)
		walk(t, m.tier1)
		assert.Equal(t, i, m.Count())
	}

	for i := 1; i <= 13; i++ {
		_, ok := m.Delete(i)
		require.True(t, ok, "delete %d", i)
	}
	for i := 21; i <= 23; i++ {
		m.Reserve(i, i)
	}

	for i := 14; i <= 23; i++ {
		v, ok := m.Get(i)
		require.True(t, ok, "get %d", i)
		assert.Equal(t, i, v)
	}
	for i := 1; i <= 13; i++ {
		_, ok := m.Get(i)
		assert.False(t, ok, "get %d should be absent", i)
	}
	assert.Equal(t, 10, m.Count())
}

// TestCondenseDrainsTier1 inserts 55 keys: the 55th insert finds 54
// entries in the 64-slot tier0, above the 0.85 load factor, so it
// demotes them to a tier1 that is then drained four entries at a time.
func TestCondenseDrainsTier1(t *testing.T) {
	m := New[int, int](intHash, 0.85, 2)
	for i := 0; i < 55; i++ {
		m.Reserve(i, i)
	}
	require.NotNil(t, m.tier1, "expected a demoted tier1 after growth")

	for m.tier1 != nil {
		m.Condense(4)
	}
	for i := 0; i < 55; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestEachVisitsEveryLiveEntry(t *testing.T) {
	m := New[int, int](intHash, 0, 4)
	want := map[int]int{}
	for i := 0; i < 12; i++ {
		m.Reserve(i, i*i)
		want[i] = i * i
	}
	got := map[int]int{}
	m.Each(func(k, v int) bool {
		got[k] = v
		return true
	})
	assert.Equal(t, want, got)
}

func TestResizeRejectsBelowLiveCount(t *testing.T) {
	m := New[int, int](intHash, 0, 4)
	for i := 0; i < 5; i++ {
		m.Reserve(i, i)
	}
	err := m.Resize(2)
	assert.Error(t, err)
}
