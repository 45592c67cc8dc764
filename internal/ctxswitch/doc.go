// Package ctxswitch is the one piece of this module with no
// third-party or standard-library substitute: Go exposes no public
// stackful-coroutine primitive, so symmetric transfer between task
// stacks is implemented as a small per-architecture assembly routine,
// following the shape of a traditional setjmp/longjmp-style context
// switch.
//
// Context holds the callee-saved registers and stack pointer for one
// suspended execution. Init prepares a Context so that the first Swap
// into it enters a given instruction pointer with two architectural
// argument registers preloaded; Swap saves the caller's registers into
// one Context and loads the callee's from another, then jumps to
// wherever that callee last left off (or to its entry point, for a
// freshly initialized Context).
//
// Swap makes no promise about caller-saved registers, floating point
// state, or goroutine-local state: callers must treat it exactly like
// a function call boundary, because that is what the calling
// convention below guarantees and nothing more.
package ctxswitch
