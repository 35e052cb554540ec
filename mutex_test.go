package tasklet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMutexPendingReleaseDefersEnqueue is the core safety property of Mutex:
// waking a tasklet governed by a mutex that is still held by the calling
// step must not run that tasklet's step until the mutex is unlocked, even
// though the waiter is already runnable from the wait-list's point of view.
func TestMutexPendingReleaseDefersEnqueue(t *testing.T) {
	rq := NewRunQueue()
	SetTarget(rq)
	defer SetTarget(nil)

	m := NewMutex()
	waiter := New(m, nil)
	wl := NewWaitList(0)

	m.Lock()
	wl.Wait(waiter)
	m.Unlock()

	ranWaiter := false
	waiter.setStep(func(any) {
		ranWaiter = true
		m.Unlock()
	})

	m.Lock()
	// Waking the waiter while m is held must only enqueue it once m.Unlock
	// below flushes the pending set — never synchronously.
	wl.Broadcast()
	require.Equal(t, 0, rq.Len(), "waiter must not be runnable while mutex held")
	m.Unlock()

	require.Equal(t, 1, rq.Len())
	rq.Run(false)
	require.True(t, ranWaiter)
}

func TestMutexWakeWhileUnlockedEnqueuesDirectly(t *testing.T) {
	rq := NewRunQueue()
	SetTarget(rq)
	defer SetTarget(nil)

	m := NewMutex()
	tk := New(m, nil)
	wl := NewWaitList(0)

	m.Lock()
	wl.Wait(tk)
	m.Unlock()

	wl.Broadcast()
	require.Equal(t, 1, rq.Len())
}
