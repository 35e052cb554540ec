//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package tasklet

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueBackend implements backend on top of kqueue(2). The private wake
// signal uses an EVFILT_USER note triggered with NOTE_TRIGGER, the same
// idiom used by kqueue-based event loops in the wild for waking a blocked
// kevent() call from another goroutine without a pipe.
type kqueueBackend struct {
	kq      int
	bufSize int
}

const wakeIdent uintptr = 1

func newBackend(bufSize int) (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}

	changes := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, errors.Wrap(err, "kevent add wake note")
	}
	return &kqueueBackend{kq: kq, bufSize: bufSize}, nil
}

func (b *kqueueBackend) register(fd int, interest uint8, flags uint16) error {
	var changes []unix.Kevent_t
	if interest&EventIn != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uintptr(fd), Filter: unix.EVFILT_READ, Flags: flags})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uintptr(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if interest&EventOut != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uintptr(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uintptr(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}

	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if errors.Is(err, unix.ENOENT) {
		// deleting a filter that was never armed is not an error for us
		return nil
	}
	return err
}

func (b *kqueueBackend) Add(fd int, interest uint8) error {
	return errors.Wrap(b.register(fd, interest, unix.EV_ADD|unix.EV_CLEAR), "kevent add")
}

func (b *kqueueBackend) Modify(fd int, interest uint8) error {
	return errors.Wrap(b.register(fd, interest, unix.EV_ADD|unix.EV_CLEAR), "kevent modify")
}

func (b *kqueueBackend) Remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uintptr(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uintptr(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return errors.Wrap(err, "kevent remove")
}

func (b *kqueueBackend) Wait(timeout time.Duration) ([]pollEvent, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	events := make([]unix.Kevent_t, b.bufSize)
	n, err := unix.Kevent(b.kq, nil, events, ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "kevent wait")
	}

	byFd := make(map[int]uint8, n)
	for i := 0; i < n; i++ {
		e := events[i]
		if e.Filter == unix.EVFILT_USER && e.Ident == wakeIdent {
			continue
		}
		fd := int(e.Ident)
		var bits uint8
		switch e.Filter {
		case unix.EVFILT_READ:
			bits = EventIn
		case unix.EVFILT_WRITE:
			bits = EventOut
		}
		if e.Flags&unix.EV_EOF != 0 || e.Flags&unix.EV_ERROR != 0 {
			bits |= EventErr
		}
		byFd[fd] |= bits
	}

	out := make([]pollEvent, 0, len(byFd))
	for fd, bits := range byFd {
		out = append(out, pollEvent{fd: fd, events: bits})
	}
	return out, nil
}

func (b *kqueueBackend) Wake() error {
	changes := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	return errors.Wrap(err, "kevent trigger wake note")
}

func (b *kqueueBackend) Close() error {
	return errors.Wrap(unix.Close(b.kq), "kqueue close")
}
