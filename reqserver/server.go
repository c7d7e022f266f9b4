package reqserver

import (
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/riscv-debug/bridge/netio"
)

// Bus is the subset of target.Target the request server forwards
// reads/writes to.
type Bus interface {
	MemRead(addr uint32, buf []byte) error
	MemWrite(addr uint32, buf []byte) error
}

// Server is the raw memory request server: one netio.Listener serving
// at most one client at a time.
type Server struct {
	loop     *netio.Loop
	ln       *netio.Listener
	bus      Bus
	maxBurst int

	sock       *netio.Socket
	haveHeader bool
	hdr        header
}

// NewServer constructs a Server bound to port once Start is called.
// maxBurst clamps every request's len the way the cable's own burst
// limit would.
func NewServer(loop *netio.Loop, bus Bus, maxBurst int) *Server {
	if maxBurst <= 0 {
		maxBurst = 4096
	}
	return &Server{loop: loop, bus: bus, maxBurst: maxBurst}
}

func (s *Server) Start(port int) error {
	s.ln = netio.NewListener(s.loop, port)
	s.ln.OnConnected = s.onConnected
	return s.ln.Start()
}

func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Stop()
	}
}

func (s *Server) onConnected(sock *netio.Socket) {
	if s.sock != nil {
		// A second dialer slipped in before SetAccepting(false) took
		// effect; refuse it rather than interleave two clients' frames.
		sock.CloseImmediate()
		return
	}
	s.sock = sock
	s.haveHeader = false
	s.ln.SetAccepting(false)

	sock.SetReadCallback(func(sk *netio.Socket, buf *netio.CircularBuffer) {
		s.drain(sk, buf)
	})
	sock.SetClosedCallback(func() {
		s.sock = nil
		s.haveHeader = false
		s.ln.SetAccepting(true)
	})
	sock.SetErrorCallback(func(err error) {
		glog.Warningf("reqserver: client error: %v", err)
	})
}

// drain parses as many complete frames as are currently buffered,
// servicing each against bus before looking for the next.
func (s *Server) drain(sock *netio.Socket, buf *netio.CircularBuffer) {
	for {
		if !s.haveHeader {
			if buf.Len() < headerSize {
				return
			}
			raw := make([]byte, headerSize)
			buf.Peek(raw)
			buf.Discard(headerSize)
			s.hdr = decodeHeader(raw)
			s.haveHeader = true
		}

		switch s.hdr.Type {
		case reqRead:
			s.serviceRead(sock)
			s.haveHeader = false
		case reqWrite:
			need := clampLen(s.hdr.Len, s.maxBurst)
			if buf.Len() < need {
				return
			}
			payload := make([]byte, need)
			buf.Read(payload)
			s.serviceWrite(sock, payload)
			s.haveHeader = false
		default:
			glog.Warningf("reqserver: unknown request type %d, dropping connection", s.hdr.Type)
			sock.CloseImmediate()
			return
		}
	}
}

func (s *Server) serviceRead(sock *netio.Socket) {
	n := clampLen(s.hdr.Len, s.maxBurst)
	data := make([]byte, n)
	if err := s.bus.MemRead(s.hdr.Addr, data); err != nil {
		glog.Warningf("reqserver: read %#x+%d: %v", s.hdr.Addr, n, err)
		sock.QueueWrite(encodeAck(s.hdr.TransID, reqAlert))
		return
	}
	sock.QueueWrite(encodeReadReply(s.hdr.TransID, data))
}

func (s *Server) serviceWrite(sock *netio.Socket, payload []byte) {
	if err := s.bus.MemWrite(s.hdr.Addr, payload); err != nil {
		glog.Warningf("reqserver: write %#x+%d: %v", s.hdr.Addr, len(payload), err)
		sock.QueueWrite(encodeAck(s.hdr.TransID, reqAlert))
		return
	}
	sock.QueueWrite(encodeAck(s.hdr.TransID, reqWrite))
}

// OnTargetReset drops any in-flight partial transaction.
func (s *Server) OnTargetReset() {
	s.haveHeader = false
}

// SendAlert pushes one interleaved alert frame to the current client,
// if any, between transactions.
func (s *Server) SendAlert() error {
	if s.sock == nil {
		return errors.Errorf("reqserver: no client attached")
	}
	s.sock.QueueWrite(encodeAck(0, reqAlert))
	return nil
}
