package hub

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertHeapProperty(t *testing.T, h *timeoutHeap) {
	t.Helper()
	for key := int32(0); key < int32(h.n); key++ {
		e := h.at(key)
		assert.Equal(t, key, e.key, "entry's key field must equal its position")
		if key == 0 {
			continue
		}
		parent := h.at((key - 1) / arity)
		assert.LessOrEqual(t, parent.prio, e.prio, "min-heap property violated at key %d", key)
	}
}

func TestHeapAddMaintainsOrder(t *testing.T) {
	h := &timeoutHeap{}
	prios := []int64{50, 10, 40, 20, 5, 100, 1, 9000, 3, 7}
	entries := make([]*heapEntry, len(prios))
	for i, p := range prios {
		e := &heapEntry{key: -1}
		entries[i] = e
		h.Add(e, p)
		assertHeapProperty(t, h)
	}
	assert.Equal(t, int64(1), h.Peek().prio)
}

func TestHeapRemoveArbitrary(t *testing.T) {
	h := &timeoutHeap{}
	entries := make([]*heapEntry, 0, 600)
	for i := 0; i < 600; i++ {
		e := &heapEntry{key: -1}
		h.Add(e, int64(rand.Intn(10000)))
		entries = append(entries, e)
		assertHeapProperty(t, h)
	}
	// remove every third entry, exercising the row-release path as the
	// heap shrinks back down.
	for i := 0; i < len(entries); i += 3 {
		h.Remove(entries[i])
		assertHeapProperty(t, h)
	}
	assert.Equal(t, 400, h.n)
}

func TestHeapReleasesTailRows(t *testing.T) {
	h := &timeoutHeap{}
	entries := make([]*heapEntry, 0, rowWidth+10)
	for i := 0; i < rowWidth+10; i++ {
		e := &heapEntry{key: -1}
		h.Add(e, int64(i))
		entries = append(entries, e)
	}
	assert.Len(t, h.rows, 2)
	for i := len(entries) - 1; i >= rowWidth; i-- {
		h.Remove(entries[i])
	}
	assert.Len(t, h.rows, 1)
}

func TestHeapUpdatePriority(t *testing.T) {
	h := &timeoutHeap{}
	entries := make([]*heapEntry, 5)
	for i := range entries {
		e := &heapEntry{key: -1}
		h.Add(e, int64((i+1)*10))
		entries[i] = e
	}
	h.Update(entries[4], 1) // last entry becomes the smallest
	assertHeapProperty(t, h)
	assert.Same(t, entries[4], h.Peek())

	h.Update(entries[4], 1000) // now the largest
	assertHeapProperty(t, h)
	assert.NotSame(t, entries[4], h.Peek())
}
