package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddTrimData checks the ring buffer's core invariant: after any
// sequence of Add/Trim/Compact/Ensure, Data equals the concatenation
// of added-minus-trimmed bytes.
func TestAddTrimData(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add([]byte("hello")))
	assert.Equal(t, "hello", string(b.Data()))

	require.NoError(t, b.Trim(2))
	assert.Equal(t, "llo", string(b.Data()))

	require.NoError(t, b.Add([]byte(" world")))
	assert.Equal(t, "llo world", string(b.Data()))
}

func TestTrimToEmptyResets(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add([]byte("abc")))
	require.NoError(t, b.Trim(3))
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Length())
}

func TestTrimRangeError(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add([]byte("ab")))
	err = b.Trim(3)
	require.Error(t, err)
}

func TestBumpRangeError(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	err = b.Bump(b.Unused() + 1)
	require.Error(t, err)
}

// TestWrapAroundViaDoubleMap writes and trims repeatedly while one
// byte always stays unread, so no Trim empties the buffer (which would
// reset both offsets) and the offsets advance past the buffer's
// capacity. The last Add leaves the unread bytes straddling the end of
// the first mapping, and Data must still read them back contiguously
// thanks to the double mapping (no caller-side wrap handling).
func TestWrapAroundViaDoubleMap(t *testing.T) {
	b, err := New(minCap)
	require.NoError(t, err)
	defer b.Close()

	cap := b.Unused()
	chunk := bytes.Repeat([]byte{0x5a}, cap/4)

	require.NoError(t, b.Add([]byte{0x5a}))
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Add(chunk))
		require.NoError(t, b.Trim(len(chunk)))
	}

	// the read offset is now 7*cap/4, so the 1+cap/4 unread bytes start
	// at 3*cap/4 in the first mapping and end one byte into the second.
	require.NoError(t, b.Add(chunk))
	assert.Equal(t, bytes.Repeat([]byte{0x5a}, len(chunk)+1), b.Data())
}

func TestEnsureGrows(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	startCap := b.Unused()
	big := bytes.Repeat([]byte{0x01}, startCap*3)

	require.NoError(t, b.Add(big))
	assert.Equal(t, big, b.Data())
	assert.GreaterOrEqual(t, b.Unused()+b.Length(), len(big))
}

func TestCompactPreservesLogicalView(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add([]byte("0123456789")))
	require.NoError(t, b.Trim(5))
	before := append([]byte(nil), b.Data()...)

	b.Compact()
	assert.Equal(t, before, b.Data())
}
