package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.StackSize = 64 * 1024
	return cfg
}

func TestResumeRunsTaskBodyToCompletion(t *testing.T) {
	m := NewManager(smallConfig())
	var ran bool
	tk := m.Spawn(func(self *Task, arg any) any {
		ran = true
		assert.Equal(t, "hello", arg)
		return "world"
	}, "greeter")

	ret, err := Resume(tk, "hello")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "world", ret)
	assert.Equal(t, Exit, tk.State())
}

func TestYieldRoundTrip(t *testing.T) {
	m := NewManager(smallConfig())
	tk := m.Spawn(func(self *Task, arg any) any {
		got, err := Yield(self, arg.(int)+1)
		if err != nil {
			return err
		}
		return got.(int) + 1
	}, "adder")

	first, err := Resume(tk, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first)
	assert.Equal(t, Suspended, tk.State())

	second, err := Resume(tk, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, second)
	assert.Equal(t, Exit, tk.State())
}

func TestResumeNonSuspendedIsPermissionError(t *testing.T) {
	m := NewManager(smallConfig())
	tk := m.Spawn(func(self *Task, arg any) any {
		_, _ = Yield(self, nil)
		return nil
	}, "once")

	_, err := Resume(tk, nil) // runs until the Yield call, leaving tk Suspended
	require.NoError(t, err)

	_, err = Resume(tk, nil) // runs past Yield to completion, leaving tk Exit
	require.NoError(t, err)

	_, err = Resume(tk, nil) // tk is Exit, not Suspended
	require.Error(t, err)
}

func TestDeferRunsLIFO(t *testing.T) {
	m := NewManager(smallConfig())
	var order []int
	tk := m.Spawn(func(self *Task, arg any) any {
		self.Defer(func() { order = append(order, 1) })
		self.Defer(func() { order = append(order, 2) })
		self.Defer(func() { order = append(order, 3) })
		return nil
	}, "deferrer")

	_, err := Resume(tk, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestDeferOutsideCurrentPanics(t *testing.T) {
	m := NewManager(smallConfig())
	tk := m.Spawn(func(self *Task, arg any) any { return nil }, "idle")
	assert.Panics(t, func() { tk.Defer(func() {}) })
}

func TestSpawnRecyclesFreedStacks(t *testing.T) {
	m := NewManager(smallConfig())
	a := m.Spawn(func(self *Task, arg any) any { return nil }, "a")
	_, err := Resume(a, nil)
	require.NoError(t, err)

	b := m.Spawn(func(self *Task, arg any) any { return nil }, "b")
	assert.Same(t, a, b, "a freed task mapping should be recycled by the next Spawn")
}
