// Package ring implements a double-mapped ring buffer: the same
// physical pages are mapped twice back to back in virtual memory, so
// any offset in [0, capacity) can be read or written for up to
// capacity bytes without the caller ever handling wraparound,
// following the original C source's xvm_alloc_ring / xbuf growth and
// trim logic.
package ring

import (
	"fmt"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/internal/config"
)

// Buffer is a growable ring of bytes backed by a double-mapped region.
// Offsets (roff, woff) are counters that Bump and Trim only advance,
// not reduced modulo capacity until Compact is called; Reset (which a
// Trim that empties the buffer, or an Ensure on an empty buffer, also
// performs) rewinds both to zero. This mirrors the
// C source's xbuf_ensure/xbuf_compact split between logical and
// physical offsets.
type Buffer struct {
	mem  []byte // len(mem) == 2*cap
	cap  int
	roff uint64
	woff uint64
}

const minCap = 4096

// New allocates a Buffer with at least capHint bytes of capacity,
// rounded up to a page multiple.
func New(capHint int) (*Buffer, error) {
	b := &Buffer{}
	if capHint < minCap {
		capHint = minCap
	}
	if err := b.grow(capHint); err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the underlying mapping. The Buffer must not be used
// afterward.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem = nil
	b.cap = 0
	return unmapDouble(mem)
}

// Empty reports whether the buffer holds no unread bytes.
func (b *Buffer) Empty() bool { return b.woff == b.roff }

// Length returns the number of unread bytes.
func (b *Buffer) Length() int { return int(b.woff - b.roff) }

// Unused returns the number of bytes available to write before
// Ensure would need to grow the mapping.
func (b *Buffer) Unused() int { return b.cap - b.Length() }

// Data returns a slice over the unread bytes. The slice aliases the
// buffer's mapping and is invalidated by the next Ensure, Add, Trim,
// or Compact call that changes capacity.
func (b *Buffer) Data() []byte {
	off := int(b.roff) % b.cap
	return b.mem[off : off+b.Length()]
}

// Tail returns a slice over the writable region following the last
// written byte, sized Unused(). Callers fill it directly and then call
// Bump with the number of bytes written.
func (b *Buffer) Tail() []byte {
	off := int(b.woff) % b.cap
	return b.mem[off : off+b.Unused()]
}

// Ensure guarantees at least n bytes of write space, compacting or
// growing the mapping as needed.
func (b *Buffer) Ensure(n int) error {
	length := b.Length()
	full := n + length

	if full <= b.cap {
		if length == 0 {
			b.Reset()
			return nil
		}
		if b.Unused() >= n {
			return nil
		}
		b.Compact()
		return nil
	}

	return b.grow(full)
}

// Add copies p into the buffer's tail, growing first if necessary.
func (b *Buffer) Add(p []byte) error {
	if err := b.Ensure(len(p)); err != nil {
		return err
	}
	copy(b.Tail(), p)
	return b.Bump(len(p))
}

// Bump advances the write offset by n, exposing n more bytes to
// Data. Fails with a crux.CategoryRange error if n exceeds Unused().
func (b *Buffer) Bump(n int) error {
	if n > b.Unused() {
		return crux.NewRangeError("ring.Bump", fmt.Sprintf("bump %d exceeds unused %d", n, b.Unused()))
	}
	b.woff += uint64(n)
	return nil
}

// Trim advances the read offset by n, discarding that many bytes from
// the front of Data. Fails with a crux.CategoryRange error if n
// exceeds Length().
func (b *Buffer) Trim(n int) error {
	max := b.Length()
	if n > max {
		return crux.NewRangeError("ring.Trim", fmt.Sprintf("trim %d exceeds length %d", n, max))
	}
	if n == max {
		b.Reset()
	} else {
		b.roff += uint64(n)
	}
	return nil
}

// Reset rewinds both offsets to zero, discarding all buffered data.
func (b *Buffer) Reset() {
	b.roff = 0
	b.woff = 0
}

// Compact normalizes the read offset into [0, cap) without copying,
// relying on the double mapping to keep Data's view contiguous.
func (b *Buffer) Compact() {
	length := b.Length()
	newRoff := b.roff % uint64(b.cap)
	b.roff = newRoff
	b.woff = newRoff + uint64(length)
}

func (b *Buffer) grow(need int) error {
	size := config.RoundPage(need)
	// an existing buffer doubles its (page-multiple) capacity until it
	// covers need, matching the C source's doubling-with-page-rounding
	// growth hint; the first allocation is need rounded up to a page.
	if b.cap > 0 {
		size = b.cap * 2
		for size < need {
			size *= 2
		}
	}

	mem, err := mapDouble(size)
	if err != nil {
		return fmt.Errorf("ring: grow: %w", err)
	}

	if b.mem != nil {
		length := b.Length()
		if length > 0 {
			off := int(b.roff) % b.cap
			copy(mem, b.mem[off:off+length])
		}
		if err := unmapDouble(b.mem); err != nil {
			_ = unmapDouble(mem)
			return fmt.Errorf("ring: grow: unmap old: %w", err)
		}
		b.woff = uint64(length)
		b.roff = 0
	}

	b.mem = mem
	b.cap = size
	return nil
}
