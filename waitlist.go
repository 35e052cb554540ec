package tasklet

import (
	"container/list"
	"sync"
)

// WaitList is simultaneously a counted semaphore and a broadcast rendezvous
// for tasklets. Down consumes count itself; Up and Broadcast only ever wake
// the current waiter sequence and let each woken tasklet's re-invoked Down
// decide for itself whether the count now suffices. A tasklet can therefore
// be woken and find it still has to re-park — waking is not a promise of
// readiness, only an invitation to re-check.
type WaitList struct {
	mu      sync.Mutex
	count   int
	waiters list.List // of *Tasklet
}

// NewWaitList creates a wait-list with the given initial count.
func NewWaitList(initialCount int) *WaitList {
	return &WaitList{count: initialCount}
}

// Up adds n to the count and wakes every tasklet currently parked on the
// wait-list. It does not decide on their behalf which of them the new count
// satisfies: each woken tasklet must re-invoke Down itself, and whichever
// runs first takes however much of the count it asks for.
func (w *WaitList) Up(n int) {
	w.mu.Lock()
	w.count += n
	w.mu.Unlock()
	w.Broadcast()
}

// Down attempts to decrement the count by n. If the count is sufficient it
// decrements immediately and returns true ("ready"). Otherwise it appends t
// to the waiter sequence and returns false ("waiting"); the caller must
// park (unlock its mutex and return) in response.
func (w *WaitList) Down(n int, t *Tasklet) bool {
	w.mu.Lock()
	if w.count >= n {
		w.count -= n
		w.mu.Unlock()
		return true
	}
	elem := w.waiters.PushBack(t)
	w.mu.Unlock()

	t.mu.Lock()
	t.detachLocked()
	t.state = stateWaitList
	t.wl = w
	t.wlElem = elem
	t.mu.Unlock()
	return false
}

// Wait appends t to the waiter sequence unconditionally, for pure
// signalling uses (e.g. Timer.Wait) that don't consume any count.
func (w *WaitList) Wait(t *Tasklet) {
	w.mu.Lock()
	elem := w.waiters.PushBack(t)
	w.mu.Unlock()

	t.mu.Lock()
	t.detachLocked()
	t.state = stateWaitList
	t.wl = w
	t.wlElem = elem
	t.mu.Unlock()
}

// Broadcast transfers every current waiter to runnable without touching the
// count. It is a no-op on an empty waiter set. Note this means a tasklet
// woken by Broadcast that then calls Down again may find the count still
// insufficient and have to re-park — Broadcast is a pure wake-up, not an Up.
func (w *WaitList) Broadcast() {
	w.mu.Lock()
	var woken []*Tasklet
	for e := w.waiters.Front(); e != nil; {
		next := e.Next()
		woken = append(woken, e.Value.(*Tasklet))
		w.waiters.Remove(e)
		e = next
	}
	w.mu.Unlock()

	for _, t := range woken {
		t.releasedFrom(w)
	}
}

// Set assigns the count directly, broadcasting the waiter sequence if the
// new count is positive.
func (w *WaitList) Set(n int) {
	w.mu.Lock()
	w.count = n
	w.mu.Unlock()
	if n > 0 {
		w.Broadcast()
	}
}

// Fini asserts the waiter sequence is empty. Finalizing a wait-list with
// waiters still parked on it is a programmer-contract violation.
func (w *WaitList) Fini() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waiters.Len() != 0 {
		panic("tasklet: WaitList.Fini called with waiters still present")
	}
}

func (w *WaitList) removeWaiter(elem *list.Element) {
	w.mu.Lock()
	w.waiters.Remove(elem)
	w.mu.Unlock()
}
