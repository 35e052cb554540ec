package tasklet

import "github.com/pkg/errors"

// Event bits for watched-fd readiness. ERR is always delivered to a
// handler whether or not it is in the interest set; IN/OUT are only
// delivered when requested.
const (
	EventIn  uint8 = 1
	EventOut uint8 = 4
	EventErr uint8 = 8
)

// Handler is invoked with the poller's internal lock held whenever fd
// becomes ready for any bit in its interest set (plus always for EventErr).
// It receives the events actually observed and the interest set that was in
// effect when they were observed, and must return the new interest set,
// atomically re-arming as it does so — readiness delivery is edge-triggered,
// so a bit dropped from the returned set will not fire again until
// explicitly re-requested via SetInterest.
//
// A handler must not take any lock ordered above the poller lock, and must
// not execute tasklet steps directly; it may only wake tasklets, which
// defers their execution to a run queue.
type Handler func(data any, events uint8, prevInterest uint8) (newInterest uint8)

// WatchedFD is a single file descriptor registered with a Poller.
type WatchedFD struct {
	poller   *Poller
	fd       int
	interest uint8
	handler  Handler
	data     any
}

// CreateWatchedFD registers fd with p, invoking handler under the poller
// lock whenever it becomes ready for whatever interest bits have been
// requested with SetInterest.
func CreateWatchedFD(p *Poller, fd int, handler Handler, data any) (*WatchedFD, error) {
	w := &WatchedFD{poller: p, fd: fd, handler: handler, data: data}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return nil, ErrClosed
	}
	if err := p.backend.Add(fd, 0); err != nil {
		return nil, errors.Wrapf(err, "watch fd %d", fd)
	}
	p.watched[fd] = w
	return w, nil
}

// Destroy deregisters w. Safe to call concurrently with an in-flight
// handler invocation: both are serialized through the poller lock.
func (w *WatchedFD) Destroy() {
	p := w.poller
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, w.fd)
	if err := p.backend.Remove(w.fd); err != nil {
		logger.Debug("watched fd remove failed (likely already closed)", logField("fd", w.fd), logErr(err))
	}
}

// SetInterest ORs bits into the current interest set.
func (w *WatchedFD) SetInterest(bits uint8) error {
	p := w.poller
	p.mu.Lock()
	defer p.mu.Unlock()
	newInterest := w.interest | bits
	if err := p.backend.Modify(w.fd, newInterest); err != nil {
		return errors.Wrapf(err, "set interest fd %d", w.fd)
	}
	w.interest = newInterest
	p.wakeLocked()
	return nil
}

// SetHandler replaces the handler (and its datum) invoked on readiness.
func (w *WatchedFD) SetHandler(handler Handler, data any) {
	p := w.poller
	p.mu.Lock()
	w.handler, w.data = handler, data
	p.mu.Unlock()
}
