//go:build amd64

package ctxswitch

import "unsafe"

// Context is the saved register set for one suspended task on amd64.
// The field order and byte offsets are load-bearing: swap_amd64.s
// indexes into this struct by raw offset, mirroring the layout of the
// original C source's struct xctx (rbx, rbp, r12-r15, rdi, rsi, rip,
// rsp).
type Context struct {
	rbx, rbp uintptr
	r12, r13 uintptr
	r14, r15 uintptr
	rdi, rsi uintptr
	rip, rsp uintptr
}

const stackAlign = 16

// Init prepares ctx so that the first Swap into it jumps to ip with
// arg1 in the first architectural argument register (rdi) and arg2 in
// the second (rsi), and rsp aligned per the System V AMD64 ABI with
// one reserved word for a dead return address, matching xctx_init.
func Init(ctx *Context, stack []byte, ip uintptr, arg1, arg2 uintptr) {
	top := uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
	sp := (top &^ (stackAlign - 1)) - 8
	*(*uintptr)(unsafe.Pointer(sp)) = 0 // dead return address

	ctx.rdi = arg1
	ctx.rsi = arg2
	ctx.rip = ip
	ctx.rsp = sp
}

// sp reports the context's saved stack pointer; used by tests to
// confirm Init's alignment bookkeeping.
func (c *Context) sp() uintptr { return c.rsp }

// ip reports the context's saved resume address; used by tests to
// confirm Init records the entry point.
func (c *Context) ip() uintptr { return c.rip }

// Swap saves the current callee-saved registers and stack pointer
// into save, loads them from load, and resumes execution at the
// instruction following load's most recent Swap (or at load's entry
// point if it was never swapped into before). Implemented in
// swap_amd64.s.
//
//go:noescape
func Swap(save, load *Context)
