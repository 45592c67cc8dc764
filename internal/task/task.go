// Package task implements stackful coroutines (tasks) with symmetric
// resume/yield, a LIFO defer stack, and cooperative exit, scheduled by
// exactly one hub per OS thread. The state machine and parent-chain
// bookkeeping follow the original C source's task.h/task.c; the
// register save/restore itself is internal/ctxswitch.
package task

import (
	"fmt"

	"github.com/kalamay/crux/internal/ctxswitch"
)

// State is a task's position in its lifecycle.
type State int

const (
	Suspended State = iota
	Current
	Active
	Exit
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Current:
		return "current"
	case Active:
		return "active"
	case Exit:
		return "exit"
	default:
		return "invalid"
	}
}

// Func is a task body. It receives the task itself (its storage is
// reachable through t) and the value the first resume delivered; its
// return value is handed to the parent as the task's final value.
type Func func(t *Task, arg any) any

// deferRecord is one LIFO cleanup entry, appended to a task's defer
// stack during its execution and drained in reverse on exit.
type deferRecord struct {
	fn   func()
	next *deferRecord
}

// Task is one stackful coroutine. Exactly one Task per Manager has
// State Current at any instant; Active tasks form a chain from the
// manager's top task down to Current, linked through parent.
type Task struct {
	ctx     ctxswitch.Context
	stack   []byte
	fn      Func
	arg     any
	ret     any
	parent  *Task
	manager *Manager
	state   State
	exitMsg any
	defers  *deferRecord
	tls     map[string]any
	name    string

	next *Task // manager free-list / pending-list intrusive link
}

// Name returns the diagnostic entry symbol the task was created with.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// TLS returns the task-local storage map, created lazily.
func (t *Task) TLS() map[string]any {
	if t.tls == nil {
		t.tls = make(map[string]any)
	}
	return t.tls
}

// Defer pushes fn onto the current task's defer stack. Panics (the
// runtime-abort convention for programmer errors) if t is not Current.
func (t *Task) Defer(fn func()) {
	if t.state != Current {
		panic(fmt.Sprintf("task: Defer called on non-current task %q (state=%s)", t.name, t.state))
	}
	t.defers = &deferRecord{fn: fn, next: t.defers}
}

// runDefers drains the defer stack LIFO, re-asserting Current before
// each record so a defer may itself resume other tasks without
// corrupting this task's exit-in-progress state.
func (t *Task) runDefers() {
	for d := t.defers; d != nil; d = d.next {
		t.state = Current
		d.fn()
	}
	t.defers = nil
}

// bootstrap runs on the task's own stack after the first Swap into
// it. It captures the value passed through the first resume, invokes
// the task body, runs the defer chain on return, and swaps a final
// time to the parent.
//
// Go's internal register ABI makes delivering t through the literal
// architectural argument registers (the C source's rdi/rsi contract)
// impractical without hand-writing every call site's register
// assignment; bootstrapEntry (manager.go) reads t off a single-thread
// staging pointer instead, valid because the hub that owns this
// manager is the only thread ever swapping into a fresh context.
func bootstrap(t *Task) {
	t.arg = t.manager.xfer
	t.ret = t.fn(t, t.arg)
	t.runDefers()
	t.state = Exit

	m := t.manager
	parent := t.parent
	parent.state = Current
	m.cur = parent
	m.xfer = t.ret
	m.release(t)

	ctxswitch.Swap(&t.ctx, &parent.ctx)
	panic("task: resumed after Exit")
}
