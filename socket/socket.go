// Package socket is a thin stream abstraction layered directly on top of
// the tasklet runtime's WatchedFD. It exists to give the core runtime
// something realistic to integration-test against; it is not a general
// sockets library (no listeners beyond net.Listener passthrough, no TLS, no
// framing).
package socket

import (
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"

	"github.com/coopflow/tasklet"
)

// Result reports the outcome of a single non-blocking Read or Write.
type Result int

const (
	// Waiting means the call parked the tasklet on the socket's wait-list;
	// the caller must unlock its mutex and return.
	Waiting Result = iota
	// OK means n bytes were read or written.
	OK
	// End means a read hit EOF.
	End
	// Error means the operation failed; call Err for the cause.
	Error
)

// Socket is a single duplex connection watched by the tasklet runtime's
// poller.
type Socket struct {
	fd  int
	wfd *tasklet.WatchedFD

	mu       sync.Mutex
	readable bool
	writable bool
	errored  bool
	lastErr  error

	readWaiters  *tasklet.WaitList
	writeWaiters *tasklet.WaitList
}

// New wraps an already-connected net.Conn for use under the tasklet
// runtime, registering its file descriptor with the poller singleton. The
// original net.Conn is closed once its descriptor has been duplicated, so
// the Socket owns the fd outright and a caller's lingering reference to the
// net.Conn can never race a later accidental GC finalization.
func New(conn net.Conn) (*Socket, error) {
	fd, err := dup(conn)
	if err != nil {
		return nil, errors.Wrap(err, "dup connection fd")
	}
	_ = conn.Close()

	p, err := tasklet.PollerSingleton()
	if err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}

	s := &Socket{
		fd:           fd,
		readWaiters:  tasklet.NewWaitList(0),
		writeWaiters: tasklet.NewWaitList(0),
	}
	wfd, err := tasklet.CreateWatchedFD(p, fd, s.onEvent, nil)
	if err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}
	s.wfd = wfd
	if err := wfd.SetInterest(tasklet.EventIn | tasklet.EventOut); err != nil {
		return nil, err
	}
	return s, nil
}

func dup(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errors.New("connection does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var dupfd int
	var dupErr error
	err = raw.Control(func(fd uintptr) {
		dupfd, dupErr = syscall.Dup(int(fd))
	})
	if err != nil {
		return -1, err
	}
	if dupErr != nil {
		return -1, dupErr
	}
	if err := syscall.SetNonblock(dupfd, true); err != nil {
		_ = syscall.Close(dupfd)
		return -1, err
	}
	return dupfd, nil
}

// onEvent runs under the poller lock; it only flips readiness flags and
// broadcasts, never touches a tasklet's governing mutex directly.
func (s *Socket) onEvent(_ any, events uint8, _ uint8) (newInterest uint8) {
	s.mu.Lock()
	if events&tasklet.EventErr != 0 {
		s.errored = true
		s.readable, s.writable = true, true
	}
	if events&tasklet.EventIn != 0 {
		s.readable = true
	}
	if events&tasklet.EventOut != 0 {
		s.writable = true
	}
	if !s.readable {
		newInterest |= tasklet.EventIn
	}
	if !s.writable {
		newInterest |= tasklet.EventOut
	}
	s.mu.Unlock()

	if events&(tasklet.EventIn|tasklet.EventErr) != 0 {
		s.readWaiters.Broadcast()
	}
	if events&(tasklet.EventOut|tasklet.EventErr) != 0 {
		s.writeWaiters.Broadcast()
	}
	return newInterest
}

// Read attempts a single non-blocking read into buf. If the socket isn't
// currently known to be readable it parks t on the read wait-list and
// returns Waiting.
func (s *Socket) Read(buf []byte, t *tasklet.Tasklet) (int, Result) {
	s.mu.Lock()
	readable := s.readable
	s.mu.Unlock()
	if !readable {
		s.readWaiters.Wait(t)
		return 0, Waiting
	}

	n, err := syscall.Read(s.fd, buf)
	if errors.Is(err, syscall.EAGAIN) {
		s.mu.Lock()
		s.readable = false
		s.mu.Unlock()
		_ = s.wfd.SetInterest(tasklet.EventIn)
		s.readWaiters.Wait(t)
		return 0, Waiting
	}
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return 0, Error
	}
	if n == 0 {
		return 0, End
	}
	return n, OK
}

// Write attempts a single non-blocking write of buf. If the socket isn't
// currently known to be writable it parks t on the write wait-list and
// returns Waiting.
func (s *Socket) Write(buf []byte, t *tasklet.Tasklet) (int, Result) {
	s.mu.Lock()
	writable := s.writable
	s.mu.Unlock()
	if !writable {
		s.writeWaiters.Wait(t)
		return 0, Waiting
	}

	n, err := syscall.Write(s.fd, buf)
	if errors.Is(err, syscall.EAGAIN) {
		s.mu.Lock()
		s.writable = false
		s.mu.Unlock()
		_ = s.wfd.SetInterest(tasklet.EventOut)
		s.writeWaiters.Wait(t)
		return 0, Waiting
	}
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return 0, Error
	}
	return n, OK
}

// Err returns the error reported by the most recent failed Read or Write.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close deregisters the socket from the poller and closes its descriptor.
func (s *Socket) Close() error {
	s.wfd.Destroy()
	return syscall.Close(s.fd)
}

// Listener watches a net.Listener's accept readiness.
type Listener struct {
	ln  net.Listener
	wfd *tasklet.WatchedFD

	mu      sync.Mutex
	ready   bool
	waiters *tasklet.WaitList
}

// Listen wraps an already-bound net.Listener for tasklet-driven accepts.
func Listen(ln net.Listener) (*Listener, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, errors.New("listener does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var fd int
	err = raw.Control(func(rfd uintptr) { fd = int(rfd) })
	if err != nil {
		return nil, err
	}

	p, err := tasklet.PollerSingleton()
	if err != nil {
		return nil, err
	}

	l := &Listener{ln: ln, waiters: tasklet.NewWaitList(0)}
	wfd, err := tasklet.CreateWatchedFD(p, fd, l.onEvent, nil)
	if err != nil {
		return nil, err
	}
	l.wfd = wfd
	if err := wfd.SetInterest(tasklet.EventIn); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Listener) onEvent(_ any, events uint8, _ uint8) (newInterest uint8) {
	l.mu.Lock()
	l.ready = true
	l.mu.Unlock()
	l.waiters.Broadcast()
	return 0 // re-armed explicitly by Accept after it takes a connection
}

// Accept returns a newly connected Socket, parking t and returning
// (nil, Waiting) if no connection is currently known to be pending.
func (l *Listener) Accept(t *tasklet.Tasklet) (*Socket, Result) {
	l.mu.Lock()
	ready := l.ready
	l.mu.Unlock()
	if !ready {
		l.waiters.Wait(t)
		return nil, Waiting
	}

	conn, err := l.ln.Accept()
	if errors.Is(err, syscall.EAGAIN) {
		l.mu.Lock()
		l.ready = false
		l.mu.Unlock()
		_ = l.wfd.SetInterest(tasklet.EventIn)
		l.waiters.Wait(t)
		return nil, Waiting
	}
	if err != nil {
		return nil, Error
	}

	// net.Listener.Accept blocks rather than reporting EAGAIN, so take one
	// connection per readiness notification and re-arm for the next one.
	l.mu.Lock()
	l.ready = false
	l.mu.Unlock()
	_ = l.wfd.SetInterest(tasklet.EventIn)

	s, err := New(conn)
	if err != nil {
		return nil, Error
	}
	return s, OK
}

// Close stops watching the listener and closes it.
func (l *Listener) Close() error {
	l.wfd.Destroy()
	return l.ln.Close()
}
