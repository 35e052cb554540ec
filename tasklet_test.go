package tasklet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskletGotoRunsImmediately(t *testing.T) {
	m := NewMutex()
	tk := New(m, "hello")

	ran := false
	m.Lock()
	tk.Goto(func(data any) {
		ran = true
		require.Equal(t, "hello", data)
	})
	m.Unlock()

	require.True(t, ran)
}

func TestTaskletNowTailCalls(t *testing.T) {
	m := NewMutex()
	tk := New(m, nil)

	var steps []string
	m.Lock()
	tk.Goto(func(any) {
		steps = append(steps, "first")
		tk.Now(func(any) {
			steps = append(steps, "second")
		})
	})
	m.Unlock()

	require.Equal(t, []string{"first", "second"}, steps)
}

func TestTaskletStopDetachesFromRunQueue(t *testing.T) {
	rq := NewRunQueue()
	SetTarget(rq)
	defer SetTarget(nil)

	m := NewMutex()
	tk := New(m, nil)

	m.Lock()
	tk.Later(func(any) { t.Fatal("stopped tasklet must not run") })
	m.Unlock()

	tk.Stop()
	require.Equal(t, 0, rq.Len())
}

func TestTaskletFiniClearsData(t *testing.T) {
	m := NewMutex()
	tk := New(m, "payload")
	tk.Fini()
	require.Nil(t, tk.Data())
}

// TestReleasedFromSkipsWakeAfterFini guards cancel-safety: if a tasklet is
// finalized after it was snapshotted by a WaitList release but before
// releasedFrom reaches it, it must never be hand back to a run queue. A
// finalized tasklet has a nil step; enqueuing it would panic the next
// RunQueue.Run.
func TestReleasedFromSkipsWakeAfterFini(t *testing.T) {
	rq := NewRunQueue()
	SetTarget(rq)
	defer SetTarget(nil)

	m := NewMutex()
	wl := NewWaitList(0)
	tk := New(m, nil)

	m.Lock()
	wl.Wait(tk)
	m.Unlock()

	m.Lock()
	tk.Fini()
	m.UnlockFini()

	// Simulate a release that was already in flight (snapshotted before
	// Fini ran) reaching the tasklet after it was finalized.
	tk.releasedFrom(wl)

	require.Equal(t, 0, rq.Len())
}
