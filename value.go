package crux

import "unsafe"

// Value is a tagged-free word that callers may pass through Resume and
// Yield (which accept any value). It carries a uint64, an int64, an
// int, or a pointer; the producer of a
// Value is the only party that knows which accessor to use on the
// other end; using the wrong one reinterprets the bits.
type Value struct {
	word uint64
	ptr  unsafe.Pointer
}

// Int packs a signed integer into a Value.
func Int(v int64) Value { return Value{word: uint64(v)} }

// Uint packs an unsigned integer into a Value.
func Uint(v uint64) Value { return Value{word: v} }

// Ptr packs a pointer into a Value. The word is left zero; callers
// that need both a pointer and an integer should embed the integer in
// the pointed-to structure instead of relying on both fields at once.
func Ptr(p unsafe.Pointer) Value { return Value{ptr: p} }

// Zero is the empty Value. The hub does not deliver Values itself: it
// resumes tasks with a Code (zero on the first resume and on a
// successful blocking primitive retry).
var Zero = Value{}

// Int reinterprets the word as a signed integer.
func (v Value) Int() int64 { return int64(v.word) }

// Uint reinterprets the word as an unsigned integer.
func (v Value) Uint() uint64 { return v.word }

// Ptr reinterprets the stored pointer.
func (v Value) Ptr() unsafe.Pointer { return v.ptr }

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool { return v.word == 0 && v.ptr == nil }
