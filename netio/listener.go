package netio

import (
	"net"
	"strconv"
	"sync"

	"github.com/cesanta/errors"
	"github.com/golang/glog"
)

type ListenerState int

const (
	ListenerStopped ListenerState = iota
	ListenerStarted
)

// Listener binds a TCP port and, while started, accepts connections on its
// own goroutine, constructing a reactor Socket for each and handing it to
// OnConnected on the loop goroutine.
type Listener struct {
	loop *Loop
	port int

	mu         sync.Mutex
	ln         net.Listener
	accepting  bool
	OnConnected    func(s *Socket)
	OnStateChange  func(ListenerState)
}

func NewListener(loop *Loop, port int) *Listener {
	return &Listener{loop: loop, port: port, accepting: true}
}

func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(l.port)))
	if err != nil {
		return errors.Annotatef(err, "listen on port %d", l.port)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go l.acceptLoop(ln)

	l.loop.Post(func() {
		if l.OnStateChange != nil {
			l.OnStateChange(ListenerStarted)
		}
	})
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		l.mu.Lock()
		accepting := l.accepting
		l.mu.Unlock()
		if !accepting {
			_ = conn.Close()
			continue
		}
		l.loop.Post(func() {
			sock := NewSocket(l.loop, conn, 0, 0)
			glog.V(1).Infof("netio: accepted %s", conn.RemoteAddr())
			if l.OnConnected != nil {
				l.OnConnected(sock)
			}
		})
	}
}

// SetAccepting lets the raw memory request server temporarily refuse new
// clients while one is already being served.
func (l *Listener) SetAccepting(v bool) {
	l.mu.Lock()
	l.accepting = v
	l.mu.Unlock()
}

func (l *Listener) Stop() {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	l.loop.Post(func() {
		if l.OnStateChange != nil {
			l.OnStateChange(ListenerStopped)
		}
	})
}
