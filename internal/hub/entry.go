package hub

import "github.com/kalamay/crux/internal/task"

// hubEntry is the per-spawned-task record that threads one task
// through up to three containers at once (the ready list, the
// timeout heap, and the poller's interest table) and
// lives for the task's entire lifetime. scheduled reports true iff at
// least one of those registrations is currently live, per the
// invariant in the same section.
type hubEntry struct {
	task *task.Task

	readyNext *hubEntry
	onReady   bool

	heap   heapEntry
	onHeap bool

	pollKind Kind
	pollID   int32
	polled   bool
}

func (e *hubEntry) scheduled() bool {
	return e.onReady || e.onHeap || e.polled
}

// detach clears the timeout-heap and poller registrations; the
// ready-list link is left to the caller. Hub.Free uses it for every
// entry still pending.
func (e *hubEntry) detach(h *Hub) {
	if e.onHeap {
		h.timers.Remove(&e.heap)
		e.onHeap = false
	}
	if e.polled {
		_ = h.poller.Del(e.pollKind, e.pollID)
		e.polled = false
	}
}
