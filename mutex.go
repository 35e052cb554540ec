package tasklet

import "sync"

// Mutex is a standard mutual-exclusion lock with one addition: waking a
// tasklet governed by a Mutex that is currently held (by anyone, the waker
// included) does not hand it straight to a run queue. Instead it joins the
// mutex's pending set and is released to the calling goroutine's run queue
// only when the mutex is next unlocked. This is what lets a step function
// safely wake tasklets that share its own mutex without ever running two
// steps under that mutex concurrently.
type Mutex struct {
	core sync.Mutex

	// state guards held and pending; it is always acquired independently
	// of core, so wake() can inspect held even while core is locked by
	// someone else.
	state   sync.Mutex
	held    bool
	pending []*Tasklet
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Lock acquires the mutex. Every tasklet step runs with its governing
// mutex locked.
func (m *Mutex) Lock() {
	m.core.Lock()
	m.state.Lock()
	m.held = true
	m.state.Unlock()
}

// Unlock releases the mutex and flushes any tasklets that were woken while
// it was held onto the calling goroutine's current run-queue target.
func (m *Mutex) Unlock() {
	m.state.Lock()
	m.held = false
	pending := m.pending
	m.pending = nil
	m.state.Unlock()

	m.core.Unlock()

	for _, t := range pending {
		enqueueOnCurrentTarget(t)
	}
}

// UnlockFini releases the mutex, flushing pending releases exactly like
// Unlock. It does the same as Unlock and does not mark the mutex as
// finalized; nothing stops a later Lock. Callers only reach for this once
// the tasklet(s) it governs have already been finalized.
func (m *Mutex) UnlockFini() {
	m.Unlock()
}

// wake routes t to a run queue immediately if the mutex is currently
// unlocked, or defers it to the mutex's pending set otherwise.
func (m *Mutex) wake(t *Tasklet) {
	m.state.Lock()
	if m.held {
		m.pending = append(m.pending, t)
		m.state.Unlock()
		return
	}
	m.state.Unlock()
	enqueueOnCurrentTarget(t)
}
