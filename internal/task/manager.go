package task

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/internal/config"
	"github.com/kalamay/crux/internal/ctxswitch"
	"golang.org/x/sys/unix"
)

// ManagerConfig configures a Manager's task geometry. All tasks
// produced by one Manager share identical stack/guard-page geometry
// so recycled mappings are reusable without a remap.
type ManagerConfig struct {
	StackSize    int
	Protect      bool // guard the low page with PROT_NONE
	CaptureEntry bool // record Func's symbol name for diagnostics
}

// DefaultManagerConfig returns an 8 MiB guarded stack, matching the
// conventional default OS thread stack size this lineage's other mmap
// consumers size generously against.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{StackSize: 8 << 20, Protect: true, CaptureEntry: true}
}

// Manager is a per-hub factory, scheduler, and free-list arena for
// tasks. It is only ever touched from the hub's own thread, so it
// carries no locks.
type Manager struct {
	cfg  ManagerConfig
	top  *Task // the thread's top-level task; never exits
	cur  *Task // the currently running task
	free *Task // free-list of recycled task mappings
	xfer any   // value in flight across the Swap currently underway
}

// bootstrapping stages the task a fresh Context is about to start
// running, handed off between Resume (which sets it immediately
// before the Swap that creates the Context) and bootstrapEntry (which
// reads it back as its first instruction). Go's assembly ABI gives a
// raw JMP into a compiled function no way to deliver arguments through
// the literal rdi/rsi (or x0/x1) registers the way the C source's
// xctx_swap does for a C callee, so every fresh Context jumps instead
// to this single fixed, no-argument trampoline and recovers the task
// pointer from here. Safe because a hub owns exactly one OS thread and
// is the only thing ever swapping into a brand new Context — there is
// never a second writer in flight.
var bootstrapping *Task

// bootstrapEntry is the fixed entry point every fresh Context is
// initialized to jump to. It recovers the task Resume staged in
// bootstrapping and hands off to bootstrap to run the task's body.
func bootstrapEntry() {
	t := bootstrapping
	bootstrap(t)
}

// NewManager creates a Manager and its top task, representing the
// calling goroutine itself. Resume/Yield treat the top task as the
// root of the parent chain.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{cfg: cfg}
	m.top = &Task{manager: m, state: Current, name: "top"}
	m.cur = m.top
	return m
}

// Top returns the manager's top-level task.
func (m *Manager) Top() *Task { return m.top }

// Current returns the task presently running on this manager.
func (m *Manager) Current() *Task { return m.cur }

// Spawn creates a task that will run fn(self, arg) once resumed. The
// task starts Suspended; it transfers no control until Resume is
// called on it.
func (m *Manager) Spawn(fn Func, name string) *Task {
	var t *Task
	if m.free != nil {
		t = m.free
		m.free = t.next
		t.next = nil
	} else {
		stackSize := config.RoundPage(m.cfg.StackSize)
		mapSize := stackSize
		if m.cfg.Protect {
			mapSize += config.PageSize()
		}
		mem, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			panic(fmt.Sprintf("task: mmap stack: %v", err))
		}
		if m.cfg.Protect {
			if err := unix.Mprotect(mem[:config.PageSize()], unix.PROT_NONE); err != nil {
				panic(fmt.Sprintf("task: mprotect guard page: %v", err))
			}
			mem = mem[config.PageSize():]
		}
		t = &Task{manager: m, stack: mem}
	}

	t.fn = fn
	t.state = Suspended
	t.parent = nil
	t.ret = nil
	t.defers = nil
	t.tls = nil
	if m.cfg.CaptureEntry {
		t.name = name
	}

	entry := reflect.ValueOf(bootstrapEntry).Pointer()
	ctxswitch.Init(&t.ctx, t.stack, entry, 0, 0)
	return t
}

// release returns a task's mapping to the free list after it exits.
// The mapping is reused, never returned to the OS.
func (m *Manager) release(t *Task) {
	t.fn = nil
	t.arg = nil
	t.next = m.free
	m.free = t
}

// Free walks the free list and unmaps every recycled stack, for use
// when the owning hub shuts down for good.
func (m *Manager) Free() {
	for t := m.free; t != nil; {
		next := t.next
		if t.stack != nil {
			base := t.stack
			if m.cfg.Protect {
				// the guard page precedes the slice Spawn kept; recover
				// it here so munmap releases the whole mapping.
				ptr := unsafe.Add(unsafe.Pointer(&base[0]), -config.PageSize())
				base = unsafe.Slice((*byte)(ptr), len(base)+config.PageSize())
			}
			_ = unix.Munmap(base)
		}
		t = next
	}
	m.free = nil
}

// Resume transfers control from the calling (Current) task to t,
// handing it v as the value its Yield call (or, on first resume, its
// Func argument) receives, and blocks until t next yields, exits, or
// panics past bootstrap. It returns whatever t passed to Yield or
// returned from Func.
//
// Resuming a task that is not Suspended is a programmer error
// reported as a CategoryPermission *crux.Error.
func Resume(t *Task, v any) (any, error) {
	if t.state != Suspended {
		return nil, crux.NewPermissionError("task.Resume",
			fmt.Sprintf("task %q is not suspended (state=%s)", t.name, t.state))
	}

	m := t.manager
	cur := m.cur
	cur.state = Active
	t.parent = cur
	t.state = Current
	m.cur = t
	m.xfer = v

	bootstrapping = t
	ctxswitch.Swap(&cur.ctx, &t.ctx)

	cur.state = Current
	m.cur = cur
	return m.xfer, nil
}

// Yield suspends the calling task, handing v back to whatever Resume
// call is waiting on it, and blocks until the task is next resumed.
// It returns the value the next Resume call supplies.
//
// Yielding the manager's top task is a programmer error: the top task
// has no parent to return control to.
func Yield(t *Task, v any) (any, error) {
	if t.parent == nil {
		return nil, crux.NewPermissionError("task.Yield",
			fmt.Sprintf("task %q has no parent to yield to", t.name))
	}

	m := t.manager
	parent := t.parent
	t.state = Suspended
	parent.state = Current
	m.cur = parent
	m.xfer = v

	ctxswitch.Swap(&t.ctx, &parent.ctx)

	t.state = Current
	m.cur = t
	return m.xfer, nil
}

// Exit terminates t with the given code. If t is the calling task, its
// defers drain and it swaps to its parent, which becomes Current. If t
// is some other Suspended or Active task, it is transitioned to Exit
// directly and its defers drain inline with no stack switch; it never
// runs again and subsequent Resume calls on it fail with Permission.
//
// Exiting the manager's top task is forbidden: there is nothing for
// the thread to return to.
func Exit(t *Task, code any) error {
	if t == t.manager.top {
		return crux.NewPermissionError("task.Exit", "cannot exit the top task")
	}
	if t.state == Exit {
		return crux.NewPermissionError("task.Exit",
			fmt.Sprintf("task %q has already exited", t.name))
	}

	m := t.manager
	if t == m.cur {
		t.state = Current
		t.ret = code
		t.runDefers()
		t.state = Exit

		parent := t.parent
		parent.state = Current
		m.cur = parent
		m.xfer = code
		m.release(t)

		ctxswitch.Swap(&t.ctx, &parent.ctx)
		panic("task: resumed after Exit")
	}

	t.state = Current
	t.ret = code
	t.runDefers()
	t.state = Exit
	m.release(t)
	return nil
}
