package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceRunsDueTasksInOrder(t *testing.T) {
	m := NewManual()
	var order []string

	m.After(30*time.Millisecond, func() { order = append(order, "c") })
	m.After(10*time.Millisecond, func() { order = append(order, "a") })
	m.After(10*time.Millisecond, func() { order = append(order, "b") })

	assert.Equal(t, 2, m.Advance(20*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 20*time.Millisecond, m.Now())

	assert.Equal(t, 1, m.Advance(10*time.Millisecond))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManual_ChainedTasks(t *testing.T) {
	m := NewManual()
	count := 0
	var step func()
	step = func() {
		count++
		if count < 5 {
			m.After(10*time.Millisecond, step)
		}
	}
	m.After(0, step)

	assert.Equal(t, 5, m.RunAll(100))
	assert.Equal(t, 40*time.Millisecond, m.Now())
	assert.Zero(t, m.Pending())
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual()
	ran := false
	h := m.After(time.Second, func() { ran = true })

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	m.Advance(2 * time.Second)
	assert.False(t, ran)
}

func TestGroup_CancelDropsPendingCallbacks(t *testing.T) {
	m := NewManual()
	g := NewGroup(m)

	ran := 0
	g.After(10*time.Millisecond, func() { ran++ })
	g.After(20*time.Millisecond, func() { ran++ })
	require.Equal(t, 2, g.Pending())

	m.Advance(10 * time.Millisecond)
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, g.Pending())

	g.Cancel()
	assert.True(t, g.Cancelled())
	assert.Zero(t, g.Pending())
	assert.Zero(t, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, 1, ran)

	// Scheduling on a cancelled group does nothing.
	h := g.After(0, func() { ran++ })
	assert.False(t, h.Cancel())
	m.RunAll(10)
	assert.Equal(t, 1, ran)
}

func TestGroup_CallbackFiredAfterCancelIsSkipped(t *testing.T) {
	m := NewManual()
	g := NewGroup(m)

	ran := false
	g.After(10*time.Millisecond, func() { ran = true })

	// Simulate a timer that already fired and is waiting to run.
	var task *groupTask
	for k := range g.pending {
		task = k
	}
	g.Cancel()
	g.run(task)

	assert.False(t, ran)
}

func TestGroup_HandleCancel(t *testing.T) {
	m := NewManual()
	g := NewGroup(m)

	ran := false
	h := g.After(10*time.Millisecond, func() { ran = true })
	assert.True(t, h.Cancel())
	assert.Zero(t, g.Pending())

	m.Advance(time.Second)
	assert.False(t, ran)
}

func TestTimerScheduler(t *testing.T) {
	s := New()
	var fired atomic.Int32
	done := make(chan struct{})

	s.After(5*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})
	h := s.After(time.Hour, func() { fired.Add(1) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer callback did not run")
	}
	assert.True(t, h.Cancel())
	assert.Equal(t, int32(1), fired.Load())
}
