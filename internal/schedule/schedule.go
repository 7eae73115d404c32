// Package schedule provides cancelable deferred callbacks.
//
// Every call to After returns a Handle. Callbacks registered through a Group
// can be invalidated together, so a sequence of chained timers can be torn down
// without a stale callback firing afterwards.
package schedule

import (
	"sync"
	"time"
)

// Handle is a scheduled callback.
type Handle interface {
	// Cancel stops the callback. It reports whether the callback was still pending.
	Cancel() bool
}

// Scheduler runs fn once after d has elapsed.
type Scheduler interface {
	After(d time.Duration, fn func()) Handle
}

type timerScheduler struct{}

// New returns a Scheduler backed by time.AfterFunc.
func New() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) After(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

// Group tracks the pending callbacks of one sequence.
// After Cancel, no callback registered through the group runs, including
// callbacks that were already due but had not started.
type Group struct {
	sched Scheduler

	mu        sync.Mutex
	pending   map[*groupTask]Handle
	cancelled bool
}

type groupTask struct {
	fn func()
}

// NewGroup creates a Group scheduling on s.
func NewGroup(s Scheduler) *Group {
	return &Group{
		sched:   s,
		pending: make(map[*groupTask]Handle),
	}
}

// After schedules fn on the group. On a cancelled group it is a no-op.
func (g *Group) After(d time.Duration, fn func()) Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancelled {
		return noopHandle{}
	}

	task := &groupTask{fn: fn}
	g.pending[task] = g.sched.After(d, func() { g.run(task) })
	return &groupHandle{group: g, task: task}
}

func (g *Group) run(task *groupTask) {
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return
	}
	if _, ok := g.pending[task]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.pending, task)
	g.mu.Unlock()

	task.fn()
}

// Cancel invalidates every pending callback of the group.
func (g *Group) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelled = true
	for task, h := range g.pending {
		h.Cancel()
		delete(g.pending, task)
	}
}

// Cancelled reports whether Cancel has been called.
func (g *Group) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// Pending returns the number of callbacks that have not run yet.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

type groupHandle struct {
	group *Group
	task  *groupTask
}

func (h *groupHandle) Cancel() bool {
	h.group.mu.Lock()
	defer h.group.mu.Unlock()

	inner, ok := h.group.pending[h.task]
	if !ok {
		return false
	}
	delete(h.group.pending, h.task)
	inner.Cancel()
	return true
}

type noopHandle struct{}

func (noopHandle) Cancel() bool { return false }
