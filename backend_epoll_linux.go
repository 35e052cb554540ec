//go:build linux

package tasklet

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollBackend implements backend on top of epoll(7), with an eventfd(2)
// used as a private wake signal: writing to it from any goroutine forces a
// blocked EpollWait to return immediately, without the ceremony of a
// self-pipe.
type epollBackend struct {
	epfd    int
	wakefd  int
	bufSize int
}

func newBackend(bufSize int) (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}

	b := &epollBackend{epfd: epfd, wakefd: wakefd, bufSize: bufSize}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "epoll_ctl add wake fd")
	}
	return b, nil
}

func toEpollEvents(interest uint8) uint32 {
	var ev uint32
	if interest&EventIn != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&EventOut != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) Add(fd int, interest uint8) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return errors.Wrap(unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, ev), "epoll_ctl add")
}

func (b *epollBackend) Modify(fd int, interest uint8) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return errors.Wrap(unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, ev), "epoll_ctl mod")
}

func (b *epollBackend) Remove(fd int) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return errors.Wrap(err, "epoll_ctl del")
}

func (b *epollBackend) Wait(timeout time.Duration) ([]pollEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	events := make([]unix.EpollEvent, b.bufSize)
	n, err := unix.EpollWait(b.epfd, events, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "epoll_wait")
	}

	out := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		e := events[i]
		if int(e.Fd) == b.wakefd {
			drainEventfd(b.wakefd)
			continue
		}
		var bits uint8
		if e.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
			bits |= EventIn
		}
		if e.Events&unix.EPOLLOUT != 0 {
			bits |= EventOut
		}
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			bits |= EventErr
		}
		out = append(out, pollEvent{fd: int(e.Fd), events: bits})
	}
	return out, nil
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil {
			continue
		}
		return
	}
}

func (b *epollBackend) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter already non-zero, a wake is already pending
		return nil
	}
	return errors.Wrap(err, "eventfd write")
}

func (b *epollBackend) Close() error {
	_ = unix.Close(b.wakefd)
	return errors.Wrap(unix.Close(b.epfd), "epoll close")
}
