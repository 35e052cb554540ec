package tasklet

import "time"

// pollEvent is a single readiness notification reported by a backend.
type pollEvent struct {
	fd     int
	events uint8
}

// backend abstracts the OS-specific readiness multiplexer (epoll on Linux,
// kqueue on the BSDs/Darwin) behind the single shape the Poller needs. All
// methods except Wait may be called from any goroutine; the poller
// serializes them itself via its own lock, matching the "handler runs under
// the poller lock" contract — backend implementations don't need their own
// internal locking for that reason.
type backend interface {
	// Add registers fd with the given initial interest bits.
	Add(fd int, interest uint8) error
	// Modify changes fd's registered interest bits.
	Modify(fd int, interest uint8) error
	// Remove deregisters fd.
	Remove(fd int) error
	// Wait blocks until a readiness event occurs, the timeout elapses, or
	// Wake is called from another goroutine. timeout < 0 means wait
	// indefinitely.
	Wait(timeout time.Duration) ([]pollEvent, error)
	// Wake interrupts a concurrent or future Wait call once.
	Wake() error
	// Close releases the backend's own resources (its poll fd, wake fd).
	Close() error
}
