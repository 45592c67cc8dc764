package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddCarriesNanoseconds(t *testing.T) {
	start := Time{Sec: 1, Nsec: 900_000_000}
	got := start.Add(200 * time.Millisecond)
	assert.Equal(t, Time{Sec: 2, Nsec: 100_000_000}, got)
}

func TestSubNegativeDuration(t *testing.T) {
	a := Time{Sec: 5}
	b := Time{Sec: 7}
	assert.Equal(t, -2*time.Second, a.Sub(b))
}

func TestBefore(t *testing.T) {
	a := Time{Sec: 1, Nsec: 5}
	b := Time{Sec: 1, Nsec: 10}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestFakeClockAdvance(t *testing.T) {
	f := NewFake()
	assert.True(t, f.Now().IsZero())
	f.Advance(15 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, f.Now().Duration())
}

func TestMonotonicIsNonDecreasing(t *testing.T) {
	m := Monotonic()
	a := m.Now()
	time.Sleep(time.Millisecond)
	b := m.Now()
	assert.False(t, b.Before(a))
}
