package hub

// timeoutHeap is the 4-ary implicit min-heap, grounded on the
// original C source's swap/sift arithmetic and on a row-indexed
// descriptor table idiom for the Go backing store: entries live in
// fixed-width rows (rowWidth each) addressed by key/rowWidth,
// key%rowWidth, so growth never needs one huge contiguous allocation
// and a drained tail row can be released.
const rowWidth = 512

const arity = 4

// heapEntry is an external handle: its key field is the live heap
// position, kept up to date on every swap so a caller holding the
// pointer can remove it in O(log n) without a separate lookup.
type heapEntry struct {
	prio  int64 // absolute deadline, nanoseconds
	key   int32 // current heap position; -1 when not in the heap
	owner *hubEntry
}

type timeoutHeap struct {
	rows [][]*heapEntry
	n    int
}

func (h *timeoutHeap) at(key int32) *heapEntry {
	return h.rows[key/rowWidth][key%rowWidth]
}

func (h *timeoutHeap) put(key int32, e *heapEntry) {
	h.rows[key/rowWidth][key%rowWidth] = e
	if e != nil {
		e.key = key
	}
}

func (h *timeoutHeap) ensureRow(key int32) {
	row := int(key) / rowWidth
	for len(h.rows) <= row {
		h.rows = append(h.rows, make([]*heapEntry, rowWidth))
	}
}

// Len reports the number of entries currently in the heap.
func (h *timeoutHeap) Len() int { return h.n }

// Peek returns the minimum-priority entry, or nil if the heap is empty.
func (h *timeoutHeap) Peek() *heapEntry {
	if h.n == 0 {
		return nil
	}
	return h.at(0)
}

// Add inserts e at priority prio and restores the heap property.
func (h *timeoutHeap) Add(e *heapEntry, prio int64) {
	e.prio = prio
	key := int32(h.n)
	h.n++
	h.ensureRow(key)
	h.put(key, e)
	h.siftUp(key)
}

// Remove extracts e from wherever it currently sits in the heap.
func (h *timeoutHeap) Remove(e *heapEntry) {
	if e.key < 0 {
		return
	}
	key := e.key
	last := int32(h.n - 1)
	if key != last {
		le := h.at(last)
		h.put(key, le)
		h.put(last, nil)
		h.n--
		h.siftDown(key)
		h.siftUp(key)
	} else {
		h.put(last, nil)
		h.n--
	}
	e.key = -1
	h.releaseTailRows()
}

// Update adjusts e's priority in place and restores the heap property.
func (h *timeoutHeap) Update(e *heapEntry, prio int64) {
	old := e.prio
	e.prio = prio
	if prio < old {
		h.siftUp(e.key)
	} else if prio > old {
		h.siftDown(e.key)
	}
}

func (h *timeoutHeap) swap(a, b int32) {
	ea, eb := h.at(a), h.at(b)
	h.put(a, eb)
	h.put(b, ea)
}

func (h *timeoutHeap) siftUp(key int32) {
	for key > 0 {
		parent := (key - 1) / arity
		if h.at(parent).prio <= h.at(key).prio {
			break
		}
		h.swap(parent, key)
		key = parent
	}
}

func (h *timeoutHeap) siftDown(key int32) {
	for {
		first := key*arity + 1
		if first >= int32(h.n) {
			break
		}
		min := first
		for c := first + 1; c < first+arity && c < int32(h.n); c++ {
			if h.at(c).prio < h.at(min).prio {
				min = c
			}
		}
		if h.at(min).prio >= h.at(key).prio {
			break
		}
		h.swap(key, min)
		key = min
	}
}

// releaseTailRows drops fully-drained trailing rows so the heap's
// footprint shrinks back down after a burst of short-lived timers.
func (h *timeoutHeap) releaseTailRows() {
	for len(h.rows) > 0 {
		lastRowStart := (len(h.rows) - 1) * rowWidth
		if h.n > lastRowStart {
			break
		}
		h.rows = h.rows[:len(h.rows)-1]
	}
}
