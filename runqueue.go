package tasklet

import (
	"container/list"
	"sync"

	"github.com/coopflow/tasklet/internal/gls"
)

// RunQueue is a per-thread FIFO of runnable tasklets. A goroutine that wants
// to drive tasklets binds itself to a queue with SetTarget and then drains
// it with Run; every Later/mutex-pending-release call made from that
// goroutine resolves to the same queue.
type RunQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   list.List // of *Tasklet
	stopped bool
}

var runQueueTarget = gls.NewSlot[*RunQueue]()

// NewRunQueue creates a new empty run queue.
func NewRunQueue() *RunQueue {
	rq := &RunQueue{}
	rq.cond = sync.NewCond(&rq.mu)
	return rq
}

// SetTarget binds rq as the calling goroutine's current run queue. Passing
// nil clears the binding.
func SetTarget(rq *RunQueue) {
	if rq == nil {
		runQueueTarget.Clear()
		return
	}
	runQueueTarget.Set(rq)
}

// CurrentTarget returns the run queue bound to the calling goroutine, or nil
// if none has been set.
func CurrentTarget() *RunQueue {
	rq, ok := runQueueTarget.Get()
	if !ok {
		return nil
	}
	return rq
}

func enqueueOnCurrentTarget(t *Tasklet) {
	rq := CurrentTarget()
	if rq == nil {
		panic(errNoTarget)
	}
	rq.Enqueue(t)
}

// Enqueue appends t to the tail of rq, removing it from whatever queue or
// wait-list it currently occupies first. Re-enqueuing a tasklet already
// queued on rq is a no-op: the run queue never holds duplicates.
func (rq *RunQueue) Enqueue(t *Tasklet) {
	t.mu.Lock()
	if t.state == stateRunQueue && t.rq == rq {
		t.mu.Unlock()
		return
	}
	t.detachLocked()

	rq.mu.Lock()
	elem := rq.items.PushBack(t)
	rq.mu.Unlock()

	t.state = stateRunQueue
	t.rq = rq
	t.rqElem = elem
	t.mu.Unlock()

	rq.cond.Signal()
}

func (rq *RunQueue) remove(elem *list.Element) {
	rq.mu.Lock()
	rq.items.Remove(elem)
	rq.mu.Unlock()
}

// Run drains rq, executing each tasklet's step function under its governing
// mutex until the queue is empty. If mayBlock is true and the queue is
// empty, Run blocks on a condition variable until a tasklet becomes
// runnable or Stop is called.
func (rq *RunQueue) Run(mayBlock bool) {
	for {
		rq.mu.Lock()
		for rq.items.Len() == 0 {
			if rq.stopped {
				rq.mu.Unlock()
				return
			}
			if !mayBlock {
				rq.mu.Unlock()
				return
			}
			rq.cond.Wait()
		}
		elem := rq.items.Front()
		t := elem.Value.(*Tasklet)
		rq.items.Remove(elem)
		rq.mu.Unlock()

		t.mu.Lock()
		if t.state != stateRunQueue || t.rq != rq {
			// stale: detached/re-queued elsewhere between pop and lock
			t.mu.Unlock()
			continue
		}
		t.state = stateExecuting
		t.rq = nil
		t.rqElem = nil
		step := t.step
		data := t.data
		mutex := t.mutex
		t.mu.Unlock()

		mutex.Lock()
		step(data)
		// step is responsible for leaving the mutex unlocked by the time it
		// returns (park+unlock, later()+unlock, or fini+unlock_fini).
	}
}

// Stop marks rq as stopped and wakes any goroutine blocked in Run(true).
// Once stopped, Run(true) behaves like Run(false).
func (rq *RunQueue) Stop() {
	rq.mu.Lock()
	rq.stopped = true
	rq.mu.Unlock()
	rq.cond.Broadcast()
}

// Len reports the number of tasklets currently queued, for tests and
// diagnostics.
func (rq *RunQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.items.Len()
}
