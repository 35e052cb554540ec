package tasklet

import (
	"container/list"
	"sync"
)

// Step is a tasklet's unit of cooperative work. It runs with the tasklet's
// governing Mutex held and must park the tasklet on a WaitList, reschedule
// it via Later or Goto, or terminate it via Fini before returning — it must
// never block the calling goroutine.
type Step func(data any)

type taskletState int

const (
	stateIdle taskletState = iota
	stateWaitList
	stateRunQueue
	stateExecuting
)

// Tasklet is a cooperative unit of work bound to a governing Mutex. At any
// time it occupies exactly one of: idle, a wait-list's waiter set, a run
// queue, or currently executing.
type Tasklet struct {
	mutex *Mutex
	data  any

	// mu guards every field below; it is always acquired before the mutex
	// (rq.mu / wl.mu) of whatever container the tasklet currently belongs
	// to, and never while holding one, so detachLocked can safely reach
	// into that container.
	mu     sync.Mutex
	state  taskletState
	step   Step
	rq     *RunQueue
	rqElem *list.Element
	wl     *WaitList
	wlElem *list.Element
}

// New creates a tasklet bound to mutex with the given opaque user datum.
// The tasklet starts idle; give it its first step with Goto or Now.
func New(mutex *Mutex, data any) *Tasklet {
	return &Tasklet{mutex: mutex, data: data}
}

// Data returns the opaque user datum the tasklet was created with.
func (t *Tasklet) Data() any {
	return t.data
}

func (t *Tasklet) setStep(step Step) {
	t.mu.Lock()
	t.step = step
	t.mu.Unlock()
}

// Goto sets the tasklet's next step and invokes it immediately, under the
// mutex the caller is assumed to already hold. Used for the tasklet's
// initial dispatch.
func (t *Tasklet) Goto(step Step) {
	t.setStep(step)
	step(t.data)
}

// Now sets the tasklet's next step and tail-calls it immediately, under the
// mutex the caller already holds. Used from inside a running step to chain
// straight into the next one without a run-queue round trip.
func (t *Tasklet) Now(step Step) {
	t.setStep(step)
	step(t.data)
}

// Later sets the tasklet's next step and enqueues it on the calling
// goroutine's current run-queue target. The caller remains responsible for
// unlocking the governing mutex before returning.
func (t *Tasklet) Later(step Step) {
	t.setStep(step)
	enqueueOnCurrentTarget(t)
}

// detachLocked removes t from whatever run queue or wait-list it currently
// occupies. Callers must hold t.mu.
func (t *Tasklet) detachLocked() {
	switch t.state {
	case stateRunQueue:
		rq := t.rq
		elem := t.rqElem
		t.rq, t.rqElem = nil, nil
		t.state = stateIdle
		rq.remove(elem)
	case stateWaitList:
		wl := t.wl
		elem := t.wlElem
		t.wl, t.wlElem = nil, nil
		t.state = stateIdle
		wl.removeWaiter(elem)
	default:
		t.state = stateIdle
	}
}

// releasedFrom transitions t out of a wait-list it has just been popped
// from (the wait-list has already removed its own list element) and routes
// it to a run queue, honoring the governing mutex's pending-release rule.
// If t was concurrently detached by Stop/Fini before this call reached it,
// it is no longer ours to wake: a finalized tasklet must never run again.
func (t *Tasklet) releasedFrom(wl *WaitList) {
	t.mu.Lock()
	if t.state != stateWaitList || t.wl != wl {
		t.mu.Unlock()
		return
	}
	t.wl, t.wlElem = nil, nil
	t.state = stateIdle
	mutex := t.mutex
	t.mu.Unlock()
	mutex.wake(t)
}

// Stop cancels any pending run-queue or wait-list membership; the tasklet
// becomes idle. Safe to call concurrently with a wake-up in flight, since
// de-queuing is protected at both ends by the container's own lock.
func (t *Tasklet) Stop() {
	t.mu.Lock()
	t.detachLocked()
	t.mu.Unlock()
}

// Fini stops the tasklet and invalidates it. The caller is still
// responsible for releasing (and, if appropriate, destroying) the
// governing mutex afterward.
func (t *Tasklet) Fini() {
	t.Stop()
	t.mu.Lock()
	t.step = nil
	t.data = nil
	t.mu.Unlock()
}
