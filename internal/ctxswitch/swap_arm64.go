//go:build arm64

package ctxswitch

import "unsafe"

// Context is the saved register set for one suspended task on arm64.
// There is no original C reference implementation for this
// architecture in this lineage (only x86_32/x86_64 exist upstream);
// the layout below generalizes the same design — callee-saved
// registers, frame pointer, link register as the resume IP, stack
// pointer, and the first two argument registers reused to carry the
// resume value across Swap — to the AArch64 AAPCS64 calling
// convention, in Go's own assembly idiom rather than a transliteration.
type Context struct {
	x19, x20 uintptr
	x21, x22 uintptr
	x23, x24 uintptr
	x25, x26 uintptr
	x27, x28 uintptr
	fp, lr   uintptr // x29, x30
	spReg    uintptr
	x0, x1   uintptr
}

const stackAlignARM64 = 16

// Init prepares ctx so the first Swap into it branches to ip with
// arg1/arg2 in x0/x1 and sp aligned to 16 bytes per AAPCS64; arm64's
// branch-and-link convention needs no reserved return-address slot on
// the stack the way amd64's call/ret does.
func Init(ctx *Context, stack []byte, ip uintptr, arg1, arg2 uintptr) {
	top := uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
	sp := top &^ (stackAlignARM64 - 1)

	ctx.x0 = arg1
	ctx.x1 = arg2
	ctx.lr = ip
	ctx.spReg = sp
}

// sp reports the context's saved stack pointer; used by tests to
// confirm Init's alignment bookkeeping.
func (c *Context) sp() uintptr { return c.spReg }

// ip reports the context's saved resume address; used by tests to
// confirm Init records the entry point.
func (c *Context) ip() uintptr { return c.lr }

// Swap saves callee-saved registers, fp, lr, sp, and the current x0/x1
// into save, loads the same from load, and returns to load's lr.
// Implemented in swap_arm64.s.
//
//go:noescape
func Swap(save, load *Context)
