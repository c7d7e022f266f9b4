package rsp

import (
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/riscv-debug/bridge/target"
)

// Server accepts RSP connections one at a time: a new connection is
// only accepted once the previous client's Serve has returned.
type Server struct {
	tgt *target.Target
	cb  Callbacks

	mu       sync.Mutex
	ln       net.Listener
	current  *Client
	stopping bool
}

func NewServer(tgt *target.Target, cb Callbacks) *Server {
	return &Server{tgt: tgt, cb: cb}
}

// Serve blocks, accepting and fully running one client connection after
// another until the listener is closed.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "rsp listen on %s", addr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			return errors.Annotatef(err, "rsp accept")
		}
		s.runOneClient(conn)
	}
}

// runOneClient implements the "on connect: halt target, build a
// Client, block until it finishes" sequence.
func (s *Server) runOneClient(conn net.Conn) {
	if err := s.cb.callStartTarget(); err != nil {
		glog.Warningf("rsp: start_target: %v", err)
	}
	if err := s.tgt.HaltAll(); err != nil {
		glog.Warningf("rsp: halt_all on connect: %v", err)
	}
	s.cb.callGdbTgtHlt()

	client := newClient(conn, s.tgt, s.cb)
	s.mu.Lock()
	s.current = client
	s.mu.Unlock()

	client.Serve()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Close marks the server as stopping, sets the current client's abort
// flag if a client is attached, and closes the listener. It returns
// without waiting for the client's worker or Serve to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.stopping = true
	current := s.current
	ln := s.ln
	s.mu.Unlock()

	if current != nil {
		current.Abort()
	}
	if ln != nil {
		return errors.Trace(ln.Close())
	}
	return nil
}
