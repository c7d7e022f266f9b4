package rsp

import (
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/riscv-debug/bridge/target"
)

const (
	packetTimeout = 2 * time.Second
	ackTimeout    = 1 * time.Second
	waitPollTimeout = 100 * time.Millisecond
)

// Client drives one accepted RSP connection end to end: framing,
// command dispatch, and the post-resume wait loop. It owns the
// connection exclusively for its lifetime -- the Server blocks on it
// before accepting the next one.
type Client struct {
	conn net.Conn
	tgt  *target.Target
	cb   Callbacks
	dec  *Decoder

	selectedAll    bool
	selectedThread int

	aborted bool
}

func newClient(conn net.Conn, tgt *target.Target, cb Callbacks) *Client {
	return &Client{conn: conn, tgt: tgt, cb: cb, dec: NewDecoder()}
}

// Abort breaks the client out of its wait loop from another goroutine
// (the listener's own shutdown path), matching close(wait_finished)'s
// "aborted flag" branch when invoked off the client's worker thread.
func (c *Client) Abort() { c.aborted = true }

// Serve runs until the peer disconnects or a session-ending error
// occurs. On a clean exit it resumes the target headless unless
// aborted.
func (c *Client) Serve() {
	defer c.conn.Close()
	c.selectedAll = true

	for !c.aborted {
		body, err := c.readPacket()
		if err != nil {
			if err == errDisconnected {
				break
			}
			glog.Warningf("rsp: client read error: %v", err)
			break
		}
		if body == nil {
			continue // break byte outside a wait loop: ignore
		}
		reply, disconnect := c.dispatch(body)
		if reply != "" {
			if err := c.sendPacket([]byte(reply)); err != nil {
				glog.Warningf("rsp: client write error: %v", err)
				break
			}
		}
		if disconnect {
			break
		}
	}

	if !c.aborted {
		if err := c.tgt.Breakpoints.Clear(); err != nil {
			glog.Warningf("rsp: clearing breakpoints on disconnect: %v", err)
		}
		for _, core := range c.tgt.AllCores() {
			_ = c.tgt.PrepareResume(core, false)
		}
		if err := c.tgt.ResumeAll(); err != nil {
			glog.Warningf("rsp: resume on disconnect: %v", err)
		}
		c.cb.callGdbTgtRes()
	}
}

var errDisconnected = errors.New("rsp: peer disconnected")

// readPacket blocks until one complete, checksum-valid packet or break
// byte is decoded, retrying checksum failures and enforcing the
// per-packet receive timeout by resetting the decoder to INIT on
// expiry (matching the state machine's own "timeout -> INIT" edge).
func (c *Client) readPacket() ([]byte, error) {
	buf := make([]byte, 1)
	deadline := time.Now().Add(packetTimeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, errors.Trace(err)
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.dec = NewDecoder()
				deadline = time.Now().Add(packetTimeout)
				continue
			}
			return nil, errDisconnected
		}
		if n == 0 {
			continue
		}
		res := c.dec.Feed(buf[0])
		if res.GotBreak {
			return nil, nil
		}
		if res.ChecksumBad {
			deadline = time.Now().Add(packetTimeout)
			continue
		}
		if res.GotPacket != nil {
			if _, err := c.conn.Write([]byte{'+'}); err != nil {
				return nil, errors.Annotatef(err, "send ack")
			}
			return res.GotPacket, nil
		}
	}
}

// sendPacket frames payload and retries until the peer acks with '+',
// waiting up to ackTimeout between attempts.
func (c *Client) sendPacket(payload []byte) error {
	frame := FormatPacket(payload)
	for {
		if _, err := c.conn.Write(frame); err != nil {
			return errors.Annotatef(err, "send packet")
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(ackTimeout)); err != nil {
			return errors.Trace(err)
		}
		ack := make([]byte, 1)
		n, err := c.conn.Read(ack)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return errDisconnected
		}
		if n > 0 && ack[0] == '+' {
			return nil
		}
	}
}

// selectedCore resolves the currently selected thread to a core,
// defaulting to thread 0 when "all" is selected -- every single-core
// command needs one concrete core even though H accepts "all".
func (c *Client) selectedCore() (*target.Core, bool) {
	id := c.selectedThread
	if c.selectedAll {
		id = 0
	}
	return c.tgt.CoreByThreadID(id)
}

// setSelectedThread applies the H-command convention (also used for
// vCont's tid argument, per the resolved Open Question): -1 selects
// every thread, 0 selects thread 0, any other n selects thread n-1.
func (c *Client) setSelectedThread(n int) {
	switch {
	case n == -1:
		c.selectedAll = true
	case n == 0:
		c.selectedAll = false
		c.selectedThread = 0
	default:
		c.selectedAll = false
		c.selectedThread = n - 1
	}
}

func parseSignedHex(s string) (int, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return int(v), nil
}

// resumeAndWait runs prepare_resume for the target threads of a c/C/s/S
// command, resumes, and blocks in the wait loop until a core stops or a
// break byte arrives, returning the stop reply packet body (without the
// leading '$'/trailing checksum, per dispatch's convention) or an empty
// disconnect signal.
func (c *Client) resumeAndWait(core *target.Core, step bool, newPC uint32, setPC bool) string {
	if setPC {
		if err := core.SetNPC(newPC); err != nil {
			glog.Warningf("rsp: setting NPC before resume: %v", err)
		}
	}
	if err := c.tgt.PrepareResume(core, step); err != nil {
		glog.Warningf("rsp: prepare_resume: %v", err)
		return "E01"
	}
	if err := c.tgt.ResumeAll(); err != nil {
		glog.Warningf("rsp: resume_all: %v", err)
		return "E01"
	}
	c.cb.callGdbTgtRes()
	return c.waitLoop()
}

// waitLoop is the post-resume loop: poll check_stopped, and between
// polls read one byte from the socket with a 100ms timeout, treating a
// 0x03 break byte the same as a stop.
func (c *Client) waitLoop() string {
	for {
		stopped, cause, found, err := c.tgt.CheckStopped()
		if err != nil {
			glog.Warningf("rsp: check_stopped: %v", err)
			return "E01"
		}
		if found {
			if err := c.tgt.HaltAll(); err != nil {
				glog.Warningf("rsp: halt_all after stop: %v", err)
			}
			c.cb.callGdbTgtHlt()
			c.selectedAll = false
			c.selectedThread = stopped.ThreadID
			sig := signalForCause(cause)
			return "T" + hex2(sig) + "thread:" + strconv.Itoa(stopped.ThreadID+1) + ";"
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(waitPollTimeout)); err != nil {
			glog.Warningf("rsp: set wait-loop deadline: %v", err)
		}
		buf := make([]byte, 1)
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return ""
		}
		if n > 0 && buf[0] == breakByte {
			if err := c.tgt.HaltAll(); err != nil {
				glog.Warningf("rsp: halt_all on break: %v", err)
			}
			c.cb.callGdbTgtHlt()
			return "T" + hex2(SignalINT) + ";"
		}
	}
}

func hex2(v int) string {
	s := strconv.FormatInt(int64(v), 16)
	if len(s) < 2 {
		s = "0" + s
	}
	return s
}
