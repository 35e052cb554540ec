package tasklet

import "container/list"

// timerRing holds every active Timer belonging to a Poller, backed by
// container/list so that removing the node a dispatch pass is currently
// visiting is well defined: Next is captured before a Remove, so each timer
// is visited at most once per pass even if earlier timers in the list fire
// and unlink themselves mid-walk.
type timerRing struct {
	list list.List
}

func (r *timerRing) add(t *Timer) *list.Element {
	return r.list.PushBack(t)
}

func (r *timerRing) remove(elem *list.Element) {
	r.list.Remove(elem)
}

// minLatest returns the smallest latest deadline across every active
// timer, or NoDeadline if none are registered. The poller is permitted to
// sleep past any timer's earliest bound but must wake no later than this.
func (r *timerRing) minLatest() int64 {
	min := NoDeadline
	for e := r.list.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Timer)
		if min == NoDeadline || t.latest < min {
			min = t.latest
		}
	}
	return min
}

// dispatch fires (broadcasts and unlinks) every timer whose earliest bound
// has passed, visiting each node in the ring exactly once this pass.
func (r *timerRing) dispatch(now int64) {
	for e := r.list.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*Timer)
		if t.earliest <= now {
			r.list.Remove(e)
			t.elem = nil
			t.active = false
			t.waiting.Broadcast()
		}
		e = next
	}
}

func (r *timerRing) clear() {
	for e := r.list.Front(); e != nil; e = r.list.Front() {
		t := e.Value.(*Timer)
		r.list.Remove(e)
		t.elem = nil
		t.active = false
	}
}

// Timer is a deadline window [earliest, latest] in monotonic microseconds,
// plus a wait-list of dependents. It fires once monotonic time reaches
// earliest; latest bounds how late the poller may delay waking up for it,
// allowing nearby timers to coalesce into a single backend wait.
type Timer struct {
	poller   *Poller
	earliest int64
	latest   int64
	waiting  *WaitList

	elem   *list.Element
	active bool
}

// NewTimer creates a timer registered against the process poller
// singleton.
func NewTimer() (*Timer, error) {
	p, err := PollerSingleton()
	if err != nil {
		return nil, err
	}
	return &Timer{poller: p, waiting: NewWaitList(0)}, nil
}

// Set arms (or re-arms) the timer for the [earliest, latest] window, given
// as monotonic microseconds (see Now).
func (t *Timer) Set(earliest, latest int64) {
	p := t.poller
	p.mu.Lock()
	t.earliest, t.latest = earliest, latest
	if !t.active {
		t.elem = p.timers.add(t)
		t.active = true
	}
	p.wakeLocked()
	p.mu.Unlock()
}

// SetRelative is Set with earliest/latest expressed as offsets from now.
func (t *Timer) SetRelative(earliest, latest int64) {
	now := Now()
	t.Set(earliest+now, latest+now)
}

// Clear unregisters the timer without firing it.
func (t *Timer) Clear() {
	p := t.poller
	p.mu.Lock()
	if t.active {
		p.timers.remove(t.elem)
		t.elem = nil
		t.active = false
	}
	p.mu.Unlock()
}

// Fini clears the timer and finalizes its wait-list.
func (t *Timer) Fini() {
	t.Clear()
	t.waiting.Fini()
}

// Wait returns true immediately if the timer's earliest bound has already
// passed; otherwise it parks tasklet on the timer's wait-list and returns
// false.
func (t *Timer) Wait(tasklet *Tasklet) bool {
	if t.earliest <= Now() {
		return true
	}
	t.waiting.Wait(tasklet)
	return false
}
