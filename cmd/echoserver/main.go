// Command echoserver runs one tasklet that accepts connections and one
// tasklet per connection that echoes bytes back. It exists to exercise the
// core runtime end to end and as a runnable example of the public API.
package main

import (
	"flag"
	"net"

	"go.uber.org/zap"

	"github.com/coopflow/tasklet"
	"github.com/coopflow/tasklet/socket"
)

const bufSize = 4096

type echoer struct {
	mutex   *tasklet.Mutex
	tasklet *tasklet.Tasklet
	socket  *socket.Socket
	log     *zap.Logger

	buf      []byte
	pos, len int
}

func (e *echoer) echo(_ any) {
	for {
		if e.pos == e.len {
			n, res := e.socket.Read(e.buf, e.tasklet)
			switch res {
			case socket.Waiting:
				e.mutex.Unlock()
				return
			case socket.End:
				e.finish()
				return
			case socket.Error:
				e.log.Warn("read failed", zap.Error(e.socket.Err()))
				e.finish()
				return
			}
			e.len = n
			e.pos = 0
		}

		n, res := e.socket.Write(e.buf[e.pos:e.len], e.tasklet)
		switch res {
		case socket.Waiting:
			e.mutex.Unlock()
			return
		case socket.Error:
			e.log.Warn("write failed", zap.Error(e.socket.Err()))
			e.finish()
			return
		}
		e.pos += n
	}
}

func (e *echoer) finish() {
	_ = e.socket.Close()
	e.tasklet.Fini()
	e.mutex.UnlockFini()
}

func newEchoer(s *socket.Socket, log *zap.Logger) *echoer {
	e := &echoer{
		mutex:  tasklet.NewMutex(),
		log:    log,
		buf:    make([]byte, bufSize),
		socket: s,
	}
	e.tasklet = tasklet.New(e.mutex, e)

	e.mutex.Lock()
	e.tasklet.Goto(func(data any) { data.(*echoer).echo(data) })
	return e
}

type echoServer struct {
	mutex    *tasklet.Mutex
	tasklet  *tasklet.Tasklet
	listener *socket.Listener
	log      *zap.Logger
}

func (es *echoServer) accept(_ any) {
	for {
		s, res := es.listener.Accept(es.tasklet)
		switch res {
		case socket.Waiting:
			es.mutex.Unlock()
			return
		case socket.Error:
			es.log.Error("accept failed")
			es.mutex.Unlock()
			return
		}
		es.log.Info("connection accepted")
		newEchoer(s, es.log)
	}
}

func newEchoServer(ln *socket.Listener, log *zap.Logger) *echoServer {
	es := &echoServer{mutex: tasklet.NewMutex(), listener: ln, log: log}
	es.tasklet = tasklet.New(es.mutex, es)

	es.mutex.Lock()
	es.tasklet.Goto(func(data any) { data.(*echoServer).accept(data) })
	return es
}

func main() {
	addr := flag.String("addr", "localhost:0", "address to listen on")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck
	tasklet.SetLogger(log)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	log.Info("listening", zap.Stringer("addr", ln.Addr()))

	sl, err := socket.Listen(ln)
	if err != nil {
		log.Fatal("watch listener", zap.Error(err))
	}

	rq := tasklet.NewRunQueue()
	tasklet.SetTarget(rq)
	newEchoServer(sl, log)

	rq.Run(true)
}
