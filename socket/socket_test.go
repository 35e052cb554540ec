package socket_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coopflow/tasklet"
	"github.com/coopflow/tasklet/socket"
)

// TestEchoRoundTrip is scenario S5: a listener tasklet accepts a connection
// and an echoer tasklet bounces written bytes back. Both tasklets are purely
// reactive to socket readiness, so the poller singleton's own background
// goroutine drives every step; no application-level run queue is needed.
func TestEchoRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	sl, err := socket.Listen(ln)
	require.NoError(t, err)
	defer sl.Close()

	type echoer struct {
		mutex   *tasklet.Mutex
		tasklet *tasklet.Tasklet
		socket  *socket.Socket
		buf     []byte
		n       int
	}
	var newEchoer func(s *socket.Socket) *echoer
	newEchoer = func(s *socket.Socket) *echoer {
		e := &echoer{mutex: tasklet.NewMutex(), socket: s, buf: make([]byte, 256)}
		e.tasklet = tasklet.New(e.mutex, e)
		e.mutex.Lock()
		var step func(any)
		step = func(any) {
			for {
				if e.n == 0 {
					n, res := e.socket.Read(e.buf, e.tasklet)
					switch res {
					case socket.Waiting:
						e.mutex.Unlock()
						return
					case socket.End, socket.Error:
						_ = e.socket.Close()
						e.tasklet.Fini()
						e.mutex.UnlockFini()
						return
					}
					e.n = n
				}
				written, res := e.socket.Write(e.buf[:e.n], e.tasklet)
				switch res {
				case socket.Waiting:
					e.mutex.Unlock()
					return
				case socket.Error:
					_ = e.socket.Close()
					e.tasklet.Fini()
					e.mutex.UnlockFini()
					return
				}
				e.buf = e.buf[written:]
				e.n -= written
				if e.n == 0 {
					e.buf = make([]byte, 256)
				}
			}
		}
		e.tasklet.Goto(step)
		return e
	}

	mutex := tasklet.NewMutex()
	tk := tasklet.New(mutex, nil)
	mutex.Lock()
	var accept func(any)
	accept = func(any) {
		for {
			s, res := sl.Accept(tk)
			if res == socket.Waiting {
				mutex.Unlock()
				return
			}
			if res == socket.Error {
				mutex.Unlock()
				return
			}
			newEchoer(s)
		}
	}
	tk.Goto(accept)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}
