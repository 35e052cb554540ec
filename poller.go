package tasklet

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Poller is the process-wide singleton that translates OS readiness and
// timer expiry into tasklet wake-ups. It owns one background goroutine and
// the registration tables for every WatchedFD and Timer attached to it.
type Poller struct {
	mu       sync.Mutex
	backend  backend
	watched  map[int]*WatchedFD
	timers   timerRing
	woken    bool
	stopping bool

	runq *RunQueue // the poller's own local run queue, drained each pass

	done chan struct{}
}

var (
	singleton   atomic.Pointer[Poller]
	singletonMu sync.Mutex
)

const defaultEventBufferSize = 128

// pollerOptions holds the tunables a PollerSingleton construction accepts.
type pollerOptions struct {
	eventBufferSize int
}

// Option configures the poller singleton's first construction. Options
// passed to later PollerSingleton calls, after the singleton already
// exists, are ignored.
type Option func(*pollerOptions)

// WithEventBufferSize sets the number of readiness events the backend
// requests from the OS per Wait call. The default is 128, matching the
// batch size gaio's own watcher uses for its epoll/kqueue backends.
func WithEventBufferSize(n int) Option {
	return func(o *pollerOptions) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}

// PollerSingleton returns the process-wide Poller, creating it on first
// call. The atomic pointer only ever serves a lock-free fast-path read;
// concurrent first calls serialize on singletonMu and double-check the
// pointer, so the poller is constructed at most once.
func PollerSingleton(opts ...Option) (*Poller, error) {
	if p := singleton.Load(); p != nil {
		return p, nil
	}

	singletonMu.Lock()
	defer singletonMu.Unlock()
	if p := singleton.Load(); p != nil {
		return p, nil
	}

	p, err := newPoller(opts...)
	if err != nil {
		return nil, err
	}
	singleton.Store(p)
	return p, nil
}

func newPoller(opts ...Option) (*Poller, error) {
	o := pollerOptions{eventBufferSize: defaultEventBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	b, err := newBackend(o.eventBufferSize)
	if err != nil {
		return nil, errors.Wrap(err, "open poller backend")
	}
	p := &Poller{
		backend: b,
		watched: make(map[int]*WatchedFD),
		woken:   true,
		runq:    NewRunQueue(),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

// Stop requests the poller's background goroutine to exit and blocks until
// it has. Every timer must already have been cleared: if any is still
// registered, the background goroutine panics (see checkNoLiveTimersLocked)
// instead of exiting cleanly. After a clean Stop the timer ring is empty and
// the goroutine has been joined.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.stopping = true
	p.wakeLocked()
	p.mu.Unlock()

	<-p.done
}

// wakeLocked signals the poller's background goroutine if it is not
// already known to be awake. Callers must hold p.mu.
func (p *Poller) wakeLocked() {
	if p.woken {
		return
	}
	p.woken = true
	if err := p.backend.Wake(); err != nil {
		logger.Warn("wake poller backend", logErr(err))
	}
}

// Wake requests the poller re-evaluate its sleep deadline,
// e.g. after a new timer or interest change. It is a no-op if the poller is
// already known to be awake.
func (p *Poller) Wake() {
	p.mu.Lock()
	p.wakeLocked()
	p.mu.Unlock()
}

func (p *Poller) loop() {
	SetTarget(p.runq)
	defer close(p.done)

	for {
		p.mu.Lock()
		if p.stopping {
			p.checkNoLiveTimersLocked()
			_ = p.backend.Close()
			p.mu.Unlock()
			return
		}
		p.woken = false
		deadline := p.timers.minLatest()
		p.mu.Unlock()

		timeout := time.Duration(-1)
		if deadline != NoDeadline {
			remaining := (deadline - Now()) * int64(time.Microsecond)
			if remaining < 0 {
				remaining = 0
			}
			timeout = time.Duration(remaining)
		}

		events, err := p.backend.Wait(timeout)
		if err != nil {
			logger.Error("poller backend wait", logErr(err))
		}

		p.mu.Lock()
		p.woken = true
		p.dispatchEventsLocked(events)
		p.timers.dispatch(Now())
		p.mu.Unlock()

		p.runq.Run(false)
	}
}

// checkNoLiveTimersLocked asserts that no Timer is still registered at
// shutdown. A caller that stops a Poller without first clearing every timer
// it armed has violated the programmer contract; this is treated as a fatal
// assertion failure rather than a silent leak. Callers must hold p.mu.
func (p *Poller) checkNoLiveTimersLocked() {
	if p.timers.list.Len() != 0 {
		panic("tasklet: poller stopped with timers still registered")
	}
}

func (p *Poller) dispatchEventsLocked(events []pollEvent) {
	for _, e := range events {
		w, ok := p.watched[e.fd]
		if !ok {
			continue
		}
		deliver := e.events & (w.interest | EventErr)
		if deliver == 0 {
			continue
		}
		prevInterest := w.interest
		newInterest := w.handler(w.data, deliver, prevInterest)
		w.interest = newInterest
		if err := p.backend.Modify(e.fd, newInterest); err != nil {
			logger.Error("re-arm watched fd", logField("fd", e.fd), logErr(err))
		}
	}
}
