package tasklet

import "github.com/pkg/errors"

// errNoTarget is the panic value raised (see enqueueOnCurrentTarget, used by
// Later and by Mutex wake-ups) when a goroutine
// tries to schedule a tasklet without ever having called SetTarget on
// itself. This is a programmer-contract violation, not a runtime condition,
// so it is fatal rather than returned as an error value.
var errNoTarget = errors.New("tasklet: run queue enqueue with no target set on this goroutine")

// ErrClosed is returned by CreateWatchedFD when the poller has begun
// stopping. Other watched-fd operations do not check for it.
var ErrClosed = errors.New("tasklet: poller is closed")
