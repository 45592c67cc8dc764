// Package hub implements the single-threaded event loop: it owns a
// task.Manager, a Poller, a timeout heap, and a ready list, and
// schedules tasks by wiring their suspensions to whichever of those
// three the blocking primitive the task called needs. Structurally
// this generalizes an io_uring-style runner's drain/deadline/block
// loop from "drain completions, submit, sleep" into "drain ready
// tasks, compute heap deadline, poll, resume."
package hub

import (
	"fmt"
	"runtime"
	"syscall"
	"time"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/clock"
	"github.com/kalamay/crux/internal/logging"
	"github.com/kalamay/crux/internal/metrics"
	"github.com/kalamay/crux/internal/task"
	"golang.org/x/sys/unix"
)

// Config configures a Hub's scheduling surface.
type Config struct {
	MaxReady  int
	PollBatch int
}

// DefaultConfig returns generous defaults suitable for a demo server.
func DefaultConfig() Config {
	return Config{MaxReady: 1024, PollBatch: 64}
}

// Hub is the single-threaded scheduler. One Hub owns exactly one OS
// thread for the duration of Run; internal structures carry no locks
// because exactly one task is Current at any instant.
type Hub struct {
	cfg Config
	mgr *task.Manager

	poller Poller
	timers timeoutHeap

	readyHead, readyTail *hubEntry
	pending              map[*hubEntry]struct{}

	entries map[*task.Task]*hubEntry

	running bool

	clk     clock.Clock
	log     *logging.Logger
	metrics *metrics.Hub
}

// New constructs a Hub with a real OS poller (epoll on Linux, kqueue
// on Darwin) and a fresh task.Manager.
func New(cfg Config, mgrCfg task.ManagerConfig) (*Hub, error) {
	p, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}
	return newHub(cfg, mgrCfg, p)
}

// NewWithPoller builds a Hub around a caller-supplied Poller,
// letting tests substitute a deterministic loopback implementation
// instead of a real epoll/kqueue backend.
func NewWithPoller(cfg Config, mgrCfg task.ManagerConfig, p Poller) (*Hub, error) {
	return newHub(cfg, mgrCfg, p)
}

func newHub(cfg Config, mgrCfg task.ManagerConfig, p Poller) (*Hub, error) {
	if cfg.MaxReady <= 0 {
		cfg = DefaultConfig()
	}
	h := &Hub{
		cfg:     cfg,
		mgr:     task.NewManager(mgrCfg),
		poller:  p,
		pending: make(map[*hubEntry]struct{}),
		entries: make(map[*task.Task]*hubEntry),
		clk:     clock.Monotonic(),
		log:     logging.Default(),
		metrics: &metrics.Hub{},
	}
	return h, nil
}

// Metrics returns the hub's hot-path counters for wiring into a
// prometheus.Collector.
func (h *Hub) Metrics() *metrics.Hub { return h.metrics }

// SetClock overrides the hub's time source, for instance with
// clock.Fake to drive timer ordering deterministically.
func (h *Hub) SetClock(c clock.Clock) { h.clk = c }

// Fn is a hub task body: it receives the hub, its own task handle
// (for use with the blocking primitives below), and the data Spawn
// was given. Its return value becomes the task's exit code.
type Fn func(h *Hub, self *task.Task, data any) any

// Spawn creates a task that runs fn(h, self, data) once the hub
// resumes it, and links it onto the ready list. Spawn never transfers
// control itself.
func (h *Hub) Spawn(fn Fn, data any, name string) {
	t := h.mgr.Spawn(func(self *task.Task, arg any) any {
		return fn(h, self, data)
	}, name)
	e := &hubEntry{task: t}
	h.entries[t] = e
	h.pushReady(e)
}

// Running reports whether Run's loop is currently active.
func (h *Hub) Running() bool { return h.running }

// Stop clears the running flag; Run's loop exits after its current
// resume returns, without touching any task's pending registrations.
// Pending tasks survive across stop/run cycles, and another call to
// Run resumes driving them.
func (h *Hub) Stop() {
	h.running = false
	_ = h.poller.Wake()
}

// Free walks the ready list and the pending set, detaching every
// entry's registrations, exiting its task (which drains the task's
// defers) and releasing the owned task mappings. The Hub must not be
// used afterward.
func (h *Hub) Free() {
	for e := h.readyHead; e != nil; e = e.readyNext {
		e.onReady = false
		_ = task.Exit(e.task, nil)
	}
	h.readyHead, h.readyTail = nil, nil
	for e := range h.pending {
		e.detach(h)
		_ = task.Exit(e.task, nil)
	}
	h.pending = map[*hubEntry]struct{}{}
	h.mgr.Free()
	_ = h.poller.Close()
}

func (h *Hub) pushReady(e *hubEntry) {
	if e.onReady {
		return
	}
	e.onReady = true
	e.readyNext = nil
	if h.readyTail == nil {
		h.readyHead, h.readyTail = e, e
	} else {
		h.readyTail.readyNext = e
		h.readyTail = e
	}
}

func (h *Hub) popReady() *hubEntry {
	e := h.readyHead
	if e == nil {
		return nil
	}
	h.readyHead = e.readyNext
	if h.readyHead == nil {
		h.readyTail = nil
	}
	e.onReady = false
	e.readyNext = nil
	return e
}

// Run drives the event loop until Stop is called or there is no more
// work: no ready tasks, nothing on the timeout heap, and nothing
// pending on the poller.
func (h *Hub) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h.running = true
	for h.running {
		if e := h.popReady(); e != nil {
			h.resumeEntry(e, crux.Code(0))
			continue
		}

		if h.timers.Len() == 0 && len(h.pending) == 0 {
			break
		}

		deadlineMs := int64(-1)
		if top := h.timers.Peek(); top != nil {
			now := h.clk.Now().Duration().Nanoseconds()
			remain := (top.prio - now) / int64(time.Millisecond)
			if remain < 0 {
				remain = 0
			}
			deadlineMs = remain
		}

		ev, err := h.poller.Wait(deadlineMs)
		h.metrics.RecordPollWait(h.readyLen())
		if err != nil {
			h.log.WithError(err).Warn("hub: poll wait failed")
			continue
		}

		// An I/O event, if any, is delivered before consulting the heap
		// for this iteration: I/O wins a same-entry timeout/readiness tie.
		if ev != nil {
			if ev.Kind == Wake {
				continue
			}
			h.deliverPollEvent(ev)
			continue
		}

		h.deliverExpiredTimers()
	}
}

func (h *Hub) readyLen() int {
	n := 0
	for e := h.readyHead; e != nil; e = e.readyNext {
		n++
	}
	return n
}

func (h *Hub) deliverPollEvent(ev *Event) {
	e := ev.Tag
	if e == nil {
		return
	}
	delete(h.pending, e)
	e.polled = false
	if e.onHeap {
		h.timers.Remove(&e.heap)
		e.onHeap = false
	}
	code := crux.Code(0)
	if ev.Err {
		code = crux.CodeClosed
	}
	h.resumeEntry(e, code)
}

func (h *Hub) deliverExpiredTimers() {
	now := h.clk.Now().Duration().Nanoseconds()
	for {
		top := h.timers.Peek()
		if top == nil || top.prio > now {
			return
		}
		e := top.owner
		h.timers.Remove(top)
		e.onHeap = false
		delete(h.pending, e)
		if e.polled {
			_ = h.poller.Del(e.pollKind, e.pollID)
			e.polled = false
		}
		h.metrics.RecordTimeout()
		h.resumeEntry(e, crux.CodeTimedOut)
	}
}

func (h *Hub) resumeEntry(e *hubEntry, v any) {
	start := time.Now()
	_, err := task.Resume(e.task, v)
	h.metrics.RecordResume(time.Since(start))
	if err != nil {
		h.log.WithError(err).Warn("hub: resume failed")
		return
	}
	if e.task.State() == task.Exit {
		delete(h.entries, e.task)
		return
	}
	if e.scheduled() {
		h.pending[e] = struct{}{}
	} else {
		h.pushReady(e)
	}
}

func (h *Hub) entryFor(t *task.Task) *hubEntry {
	e := h.entries[t]
	if e == nil {
		panic("hub: primitive called from a task not owned by this hub")
	}
	return e
}

// --- blocking primitives ---

func deadlineNs(clk clock.Clock, timeoutMs int64) int64 {
	return clk.Now().Duration().Nanoseconds() + timeoutMs*int64(time.Millisecond)
}

// ioWait implements the generic retry loop every blocking primitive
// shares: attempt, and on EAGAIN register with the poller (and the
// timeout heap, if bounded) before yielding.
func (h *Hub) ioWait(t *task.Task, fd int32, kind Kind, timeoutMs int64, attempt func() (int, error)) (int, error) {
	e := h.entryFor(t)
	var deadline int64
	if timeoutMs > 0 {
		deadline = deadlineNs(h.clk, timeoutMs)
	}

	for {
		n, err := attempt()
		if err == nil {
			return n, nil
		}
		errno, ok := err.(syscall.Errno)
		if !ok {
			return n, err
		}
		if errno == unix.EINTR {
			continue
		}
		if errno != unix.EAGAIN {
			return n, crux.FromErrno("hub.io", errno)
		}
		if timeoutMs == 0 {
			return 0, crux.NewTimeoutError("hub.io")
		}

		if err := h.poller.Add(kind, fd, e); err != nil {
			return 0, fmt.Errorf("hub: poll add: %w", err)
		}
		e.polled, e.pollKind, e.pollID = true, kind, fd
		if timeoutMs > 0 {
			h.timers.Add(&e.heap, deadline)
			e.heap.owner = e
			e.onHeap = true
		}
		h.pending[e] = struct{}{}

		v, yerr := task.Yield(t, nil)
		if yerr != nil {
			return 0, yerr
		}
		code, _ := v.(crux.Code)
		if code.IsErr() {
			return 0, codeToError("hub.io", code)
		}
	}
}

func codeToError(op string, code crux.Code) error {
	switch code {
	case crux.CodeTimedOut:
		return crux.NewTimeoutError(op)
	case crux.CodeClosed:
		return crux.NewClosedError(op)
	default:
		return crux.NewSysError(op, syscall.Errno(-int32(code)))
	}
}

// Read performs a non-blocking read on fd, suspending the calling
// task until data is available or timeoutMs elapses.
func (h *Hub) Read(t *task.Task, fd int32, buf []byte, timeoutMs int64) (int, error) {
	return h.ioWait(t, fd, In, timeoutMs, func() (int, error) {
		return unix.Read(int(fd), buf)
	})
}

// Write performs a non-blocking write on fd, suspending the calling
// task until the socket is writable or timeoutMs elapses.
func (h *Hub) Write(t *task.Task, fd int32, buf []byte, timeoutMs int64) (int, error) {
	return h.ioWait(t, fd, Out, timeoutMs, func() (int, error) {
		return unix.Write(int(fd), buf)
	})
}

// RecvFrom performs a non-blocking UDP receive, returning the number
// of bytes read and the peer address.
func (h *Hub) RecvFrom(t *task.Task, fd int32, buf []byte, timeoutMs int64) (int, unix.Sockaddr, error) {
	var from unix.Sockaddr
	n, err := h.ioWait(t, fd, In, timeoutMs, func() (int, error) {
		nn, addr, rerr := unix.Recvfrom(int(fd), buf, 0)
		from = addr
		return nn, rerr
	})
	return n, from, err
}

// SendTo performs a non-blocking UDP send to addr.
func (h *Hub) SendTo(t *task.Task, fd int32, buf []byte, addr unix.Sockaddr, timeoutMs int64) error {
	_, err := h.ioWait(t, fd, Out, timeoutMs, func() (int, error) {
		return len(buf), unix.Sendto(int(fd), buf, 0, addr)
	})
	return err
}

// Accept performs a non-blocking accept on the listening socket fd.
func (h *Hub) Accept(t *task.Task, fd int32, timeoutMs int64) (int, unix.Sockaddr, error) {
	var accepted int
	var from unix.Sockaddr
	_, err := h.ioWait(t, fd, In, timeoutMs, func() (int, error) {
		afd, addr, aerr := unix.Accept(int(fd))
		accepted, from = afd, addr
		return 0, aerr
	})
	return accepted, from, err
}

// Sleep suspends the calling task for at least durationMs
// milliseconds, using the timeout heap only (no poller registration).
func (h *Hub) Sleep(t *task.Task, durationMs int64) error {
	e := h.entryFor(t)
	deadline := deadlineNs(h.clk, durationMs)
	h.timers.Add(&e.heap, deadline)
	e.heap.owner = e
	e.onHeap = true
	h.pending[e] = struct{}{}

	_, err := task.Yield(t, nil)
	return err
}

// Signal registers interest in sig, suspending the calling task until
// it is delivered or timeoutMs elapses; a timeoutMs of zero or less
// waits with no deadline. Signal always waits: it has no mode that
// deregisters sig without blocking.
func (h *Hub) Signal(t *task.Task, sig int32, timeoutMs int64) error {
	e := h.entryFor(t)
	if err := h.poller.Add(Signal, sig, e); err != nil {
		return fmt.Errorf("hub: signal add: %w", err)
	}
	e.polled, e.pollKind, e.pollID = true, Signal, sig
	if timeoutMs > 0 {
		h.timers.Add(&e.heap, deadlineNs(h.clk, timeoutMs))
		e.heap.owner = e
		e.onHeap = true
	}
	h.pending[e] = struct{}{}

	v, err := task.Yield(t, nil)
	if err != nil {
		return err
	}
	code, _ := v.(crux.Code)
	if code.IsErr() {
		return codeToError("hub.signal", code)
	}
	return nil
}

// Wait is the bare registration primitive: it suspends the calling
// task until fd becomes ready for kind or timeoutMs elapses, without
// attempting any syscall itself.
func (h *Hub) Wait(t *task.Task, fd int32, kind Kind, timeoutMs int64) error {
	e := h.entryFor(t)
	if err := h.poller.Add(kind, fd, e); err != nil {
		return fmt.Errorf("hub: wait add: %w", err)
	}
	e.polled, e.pollKind, e.pollID = true, kind, fd
	if timeoutMs > 0 {
		h.timers.Add(&e.heap, deadlineNs(h.clk, timeoutMs))
		e.heap.owner = e
		e.onHeap = true
	}
	h.pending[e] = struct{}{}

	v, err := task.Yield(t, nil)
	if err != nil {
		return err
	}
	code, _ := v.(crux.Code)
	if code.IsErr() {
		return codeToError("hub.wait", code)
	}
	return nil
}
