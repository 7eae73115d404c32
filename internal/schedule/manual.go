package schedule

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by an explicit virtual clock.
// Nothing runs until Advance or RunAll is called.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManual returns a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.seq++
	task := &manualTask{at: m.now + d, seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, task)
	return &manualHandle{m: m, task: task}
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of scheduled callbacks that have not run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d, running every callback that becomes due
// in order. Callbacks scheduled while advancing run too if they fall inside d.
// It returns the number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	ran := 0
	for {
		m.mu.Lock()
		task := m.popDue(target)
		if task == nil {
			m.now = target
			m.mu.Unlock()
			return ran
		}
		m.now = task.at
		m.mu.Unlock()

		task.fn()
		ran++
	}
}

// RunAll runs callbacks until none are left, or until limit callbacks have run.
// It returns the number of callbacks run.
func (m *Manual) RunAll(limit int) int {
	ran := 0
	for ran < limit {
		m.mu.Lock()
		task := m.popDue(-1)
		if task == nil {
			m.mu.Unlock()
			return ran
		}
		m.now = task.at
		m.mu.Unlock()

		task.fn()
		ran++
	}
	return ran
}

// popDue removes and returns the earliest task due at or before target.
// A negative target matches any task. Caller holds m.mu.
func (m *Manual) popDue(target time.Duration) *manualTask {
	best := -1
	for i, t := range m.tasks {
		if target >= 0 && t.at > target {
			continue
		}
		if best < 0 || t.at < m.tasks[best].at || (t.at == m.tasks[best].at && t.seq < m.tasks[best].seq) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	task := m.tasks[best]
	m.tasks = append(m.tasks[:best], m.tasks[best+1:]...)
	return task
}

type manualHandle struct {
	m    *Manual
	task *manualTask
}

func (h *manualHandle) Cancel() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	for i, t := range h.m.tasks {
		if t == h.task {
			h.m.tasks = append(h.m.tasks[:i], h.m.tasks[i+1:]...)
			return true
		}
	}
	return false
}
