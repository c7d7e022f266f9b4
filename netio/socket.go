package netio

import (
	"net"
	"sync"
	"time"

	"github.com/cesanta/errors"
	"github.com/golang/glog"
)

// FileEvents mirrors the readiness bitmask the event loop watches for on a
// socket's underlying handle.
type FileEvents int

const (
	EventsNone FileEvents = 0
	EventsRead FileEvents = 1 << iota
	EventsWrite
	EventsBoth = EventsRead | EventsWrite
)

// SocketState is the socket lifecycle: Open -> ShuttingDown -> ShutDown -> Closed.
type SocketState int

const (
	StateOpen SocketState = iota
	StateShuttingDown
	StateShutDown
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateShuttingDown:
		return "shutting-down"
	case StateShutDown:
		return "shut-down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	highWatermark = 0.75
	lowWatermark  = 0.25
)

// DataCallback is invoked on the loop goroutine. For a read callback buf
// holds bytes already drained off the wire; the callback consumes from it.
// For a write callback the callback appends bytes the socket should send.
type DataCallback func(s *Socket, buf *CircularBuffer)

// Socket owns a net.Conn and the two bounded circular buffers the reactor
// uses for buffered, flow-controlled I/O.
type Socket struct {
	loop *Loop
	conn net.Conn

	mu    sync.Mutex
	in    *CircularBuffer
	out   *CircularBuffer
	state SocketState

	userEvents   FileEvents
	readFlowing  bool
	writeFlowing bool

	onRead    DataCallback
	onWrite   DataCallback
	onClosed  func()
	onError   func(error)

	readerDone chan struct{}
	writerWake chan struct{}
	closeOnce  sync.Once
}

// NewSocket wraps conn in a reactor-managed Socket and starts its reader
// and writer pumps. Callbacks fire on loop's goroutine via Loop.Post.
func NewSocket(loop *Loop, conn net.Conn, readSize, writeSize int) *Socket {
	if readSize <= 0 {
		readSize = DefaultBufferSize
	}
	if writeSize <= 0 {
		writeSize = DefaultBufferSize
	}
	s := &Socket{
		loop:         loop,
		conn:         conn,
		in:           NewCircularBuffer(readSize),
		out:          NewCircularBuffer(writeSize),
		state:        StateOpen,
		readFlowing:  true,
		writeFlowing: true,
		readerDone:   make(chan struct{}),
		writerWake:   make(chan struct{}, 1),
	}
	go s.readPump()
	go s.writePump()
	return s
}

// NewSyncSocket wraps conn without starting the reactor's read/write
// pumps, for collaborators that drive the connection entirely through
// ReadImmediate/WriteImmediate on their own dedicated thread (the JTAG
// proxy cable). Mixing pumped and synchronous access on
// the same Socket would race two readers against one net.Conn.
func NewSyncSocket(conn net.Conn) *Socket {
	return &Socket{
		conn:       conn,
		state:      StateOpen,
		readerDone: make(chan struct{}),
	}
}

func (s *Socket) SetReadCallback(cb DataCallback)  { s.loop.Post(func() { s.onRead = cb }) }
func (s *Socket) SetWriteCallback(cb DataCallback) { s.loop.Post(func() { s.onWrite = cb }) }
func (s *Socket) SetClosedCallback(cb func())      { s.loop.Post(func() { s.onClosed = cb }) }
func (s *Socket) SetErrorCallback(cb func(error))  { s.loop.Post(func() { s.onError = cb }) }

func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// readPump performs the blocking net.Conn.Read calls on its own goroutine
// and hands completed reads to the loop goroutine, which applies watermark
// flow control before invoking onRead.
func (s *Socket) readPump() {
	defer close(s.readerDone)
	tmp := make([]byte, 4096)
	for {
		s.mu.Lock()
		flowing := s.readFlowing
		closed := s.state >= StateShutDown
		s.mu.Unlock()
		if closed {
			return
		}
		if !flowing {
			// Backpressure: park briefly rather than spin. A production
			// reactor would park on a condition variable signaled by
			// resumeReadIfNeeded; polling keeps this file's scope small.
			select {
			case <-s.readerDone:
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		n, err := s.conn.Read(tmp)
		if n > 0 {
			chunk := append([]byte(nil), tmp[:n]...)
			s.loop.Post(func() { s.handleReadData(chunk) })
		}
		if err != nil {
			s.loop.Post(func() { s.handleReadError(err) })
			return
		}
	}
}

func (s *Socket) handleReadData(chunk []byte) {
	s.mu.Lock()
	written := s.in.Write(chunk)
	ratio := s.in.FillRatio()
	if s.readFlowing && ratio >= highWatermark {
		s.readFlowing = false
	}
	cb := s.onRead
	s.mu.Unlock()
	if written < len(chunk) {
		glog.Warningf("netio: in-buffer overrun, dropped %d bytes", len(chunk)-written)
	}
	if cb != nil {
		cb(s, s.in)
	}
	s.mu.Lock()
	ratio = s.in.FillRatio()
	if !s.readFlowing && ratio <= lowWatermark {
		s.readFlowing = true
	}
	s.mu.Unlock()
}

func (s *Socket) handleReadError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(errors.Annotatef(err, "socket read"))
	}
	s.closeImmediate()
}

// writePump blocks on writerWake, draining the out-buffer to the wire
// whenever the loop goroutine signals there is something to send.
func (s *Socket) writePump() {
	for range s.writerWake {
		for {
			buf := make([]byte, 4096)
			s.mu.Lock()
			n := s.out.Peek(buf)
			s.mu.Unlock()
			if n == 0 {
				break
			}
			wn, err := s.conn.Write(buf[:n])
			if wn > 0 {
				s.mu.Lock()
				s.out.Discard(wn)
				ratio := s.out.FillRatio()
				empty := s.out.IsEmpty()
				if !s.writeFlowing && ratio <= lowWatermark {
					s.writeFlowing = true
				}
				s.mu.Unlock()
				if empty {
					s.loop.Post(s.refillOutBuffer)
				}
			}
			if err != nil {
				s.loop.Post(func() { s.handleReadError(err) })
				return
			}
			if wn < n {
				break
			}
		}
		s.mu.Lock()
		closing := s.state == StateShuttingDown && s.out.IsEmpty()
		s.mu.Unlock()
		if closing {
			s.loop.Post(s.finishShutdown)
		}
	}
}

// refillOutBuffer invokes onWrite (on the loop goroutine) to let the
// application append more data, then wakes the writer pump if there is now
// something to send.
func (s *Socket) refillOutBuffer() {
	s.mu.Lock()
	cb := s.onWrite
	s.mu.Unlock()
	if cb != nil {
		cb(s, s.out)
	}
	s.mu.Lock()
	ratio := s.out.FillRatio()
	nonEmpty := !s.out.IsEmpty()
	if s.writeFlowing && ratio >= highWatermark {
		s.writeFlowing = false
	}
	s.mu.Unlock()
	if nonEmpty {
		s.wakeWriter()
	}
}

func (s *Socket) wakeWriter() {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.writerWake <- struct{}{}:
	default:
	}
}

// QueueWrite appends p to the out-buffer and wakes the writer pump. It is
// the push counterpart to the onWrite pull callback, used by higher layers
// (RSP replies, raw-memory responses) that produce data outside of a
// refill callback.
func (s *Socket) QueueWrite(p []byte) int {
	s.mu.Lock()
	n := s.out.Write(p)
	s.mu.Unlock()
	s.wakeWriter()
	return n
}

// ReadImmediate performs a synchronous read directly against the
// underlying connection, bypassing the reactor. It exists for the JTAG
// proxy cable's blocking request/response path, which needs a
// read_immediate/write_immediate escape hatch around the async pump.
func (s *Socket) ReadImmediate(buf []byte) (int, error) {
	return s.conn.Read(buf)
}

func (s *Socket) WriteImmediate(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

// CloseSync tears the connection down immediately without going through
// the loop, for sockets created with NewSyncSocket.
func (s *Socket) CloseSync() { s.closeImmediate() }

// Shutdown drains any remaining out-buffer, sends a FIN, then closes.
func (s *Socket) Shutdown() {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != StateOpen {
			s.mu.Unlock()
			return
		}
		s.state = StateShuttingDown
		empty := s.out.IsEmpty()
		s.mu.Unlock()
		if empty {
			s.finishShutdown()
		} else {
			s.wakeWriter()
		}
	})
}

func (s *Socket) finishShutdown() {
	s.mu.Lock()
	if s.state == StateShuttingDown {
		s.state = StateShutDown
	}
	s.mu.Unlock()
	if tc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = tc.CloseWrite()
	}
	s.closeImmediate()
}

// Close is the graceful path: Shutdown then close once drained.
func (s *Socket) Close() { s.Shutdown() }

// CloseImmediate tears the connection down without draining.
func (s *Socket) CloseImmediate() { s.loop.Post(s.closeImmediate) }

func (s *Socket) closeImmediate() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		cb := s.onClosed
		s.mu.Unlock()
		_ = s.conn.Close()
		if s.writerWake != nil {
			close(s.writerWake)
		}
		if cb != nil {
			cb()
		}
	})
}
