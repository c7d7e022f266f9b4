// Package proxycable implements the JTAG proxy transport: a TCP client
// that frames every JTAG primitive as a small request/response pair and
// talks to an external proxy process that owns the real cable hardware.
package proxycable

import (
	"encoding/binary"
	"time"

	"github.com/cesanta/errors"
	"github.com/riscv-debug/bridge/jtag"
	"github.com/riscv-debug/bridge/netio"
)

// Message types. The proxy wire protocol has exactly two: a JTAG
// request shared by bit shifting and TRST pulses, and a reset request
// used solely for the target's system reset line -- there is no
// separate message type per Cable method.
const (
	msgJTAGReq  = 1 // DEBUG_BRIDGE_JTAG_REQ
	msgResetReq = 2 // DEBUG_BRIDGE_RESET_REQ
)

// Bit positions within each payload byte of a JTAG request. The proxy
// header that defines these (debug_bridge/proxy.hpp) wasn't in the
// retrieved sources, so the exact values are this package's own
// assumption, consistent with "TDI in the low-bit position" and kept
// stable across every JTAG request this cable sends.
const (
	bitTDI  = 0
	bitTMS  = 1
	bitTRST = 2
)

// jtagHeader is the fixed request prefix for a msgJTAGReq: type(u32)
// bits(u16) tdo(u8), where tdo signals whether the caller wants the
// shifted-out bits read back.
type jtagHeader struct {
	Type uint32
	Bits uint16
	TDO  uint8
}

// Cable implements jtag.Cable over a blocking TCP connection, using the
// reactor's Socket only for its ReadImmediate/WriteImmediate escape
// hatch -- the proxy protocol is a strict one-request-one-response RPC,
// not a buffered stream, so the normal on_read/on_write callbacks don't
// apply here.
type Cable struct {
	sock    *netio.Socket
	timeout time.Duration
}

func Dial(client *netio.Client, addr string, timeout time.Duration) (*Cable, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sock, err := client.DialRaw(addr, timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "dial JTAG proxy at %s", addr)
	}
	return &Cable{sock: sock, timeout: timeout}, nil
}

var _ jtag.Cable = (*Cable)(nil)

func (c *Cable) sendJTAGReq(bits uint16, tdo bool, payload []byte) error {
	var tdoByte uint8
	if tdo {
		tdoByte = 1
	}
	buf := make([]byte, 7+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], msgJTAGReq)
	binary.LittleEndian.PutUint16(buf[4:6], bits)
	buf[6] = tdoByte
	copy(buf[7:], payload)
	_, err := c.sock.WriteImmediate(buf)
	return errors.Annotatef(err, "write proxy JTAG request")
}

func (c *Cable) sendResetReq(active bool) error {
	var activeByte uint8
	if active {
		activeByte = 1
	}
	buf := []byte{0, 0, 0, 0, activeByte}
	binary.LittleEndian.PutUint32(buf[0:4], msgResetReq)
	_, err := c.sock.WriteImmediate(buf)
	return errors.Annotatef(err, "write proxy reset request")
}

// readExact reads exactly n bytes, looping over short reads the way a
// blocking proxy RPC client must.
func (c *Cable) readExact(n int) ([]byte, error) {
	out := make([]byte, n)
	read := 0
	for read < n {
		k, err := c.sock.ReadImmediate(out[read:])
		if err != nil {
			return nil, errors.Annotatef(err, "read proxy response")
		}
		read += k
	}
	return out, nil
}

// proxyStream is the common framing every JTAG request goes through: one
// payload byte per bit, the driven value in the given bit position,
// TRST asserted on every byte unless this request's own bit is TRST
// (a TRST pulse must not also assert TRST as a side line), and TMS set
// on the final byte iff lastTMS.
func (c *Cable) proxyStream(in []byte, nBits int, lastTMS bool, bit int, wantReadback bool) ([]byte, error) {
	payload := make([]byte, nBits)
	for i := 0; i < nBits; i++ {
		var v byte
		if in != nil && (in[i/8]>>uint(i%8))&1 != 0 {
			v = 1
		}
		b := v << uint(bit)
		if bit != bitTRST {
			b |= 1 << bitTRST
		}
		if i == nBits-1 && lastTMS {
			b |= 1 << bitTMS
		}
		payload[i] = b
	}
	if err := c.sendJTAGReq(uint16(nBits), wantReadback, payload); err != nil {
		return nil, err
	}
	if !wantReadback {
		return nil, nil
	}
	return c.readExact((nBits + 7) / 8)
}

func (c *Cable) BitInOut(tdi bool, tms bool) (bool, error) {
	var in [1]byte
	if tdi {
		in[0] = 1
	}
	resp, err := c.proxyStream(in[:], 1, tms, bitTDI, true)
	if err != nil {
		return false, err
	}
	return resp[0]&1 != 0, nil
}

// StreamInOut frames the shift as one payload byte per bit, asserting
// TRST on every byte (this is not a TRST operation) and TMS on the
// final byte iff lastTMS.
func (c *Cable) StreamInOut(in, out []byte, nBits int, lastTMS bool) error {
	resp, err := c.proxyStream(in, nBits, lastTMS, bitTDI, out != nil)
	if err != nil {
		return err
	}
	if out != nil {
		copy(out, resp)
	}
	return nil
}

// WriteTMS shifts a single TMS bit with TDI held low. The proxy has no
// distinct network operation for this; it goes through the same
// request framing as every other JTAG shift.
func (c *Cable) WriteTMS(bit bool) error {
	_, err := c.proxyStream(nil, 1, bit, bitTDI, false)
	return err
}

// JTAGReset drives TRST to !active for one bit time. Framed as a
// regular JTAG request whose shifted bit is itself TRST, so proxyStream
// does not also OR in the TRST line on top of it.
func (c *Cable) JTAGReset(active bool) error {
	var level [1]byte
	if !active {
		level[0] = 1
	}
	_, err := c.proxyStream(level[:], 1, false, bitTRST, false)
	return err
}

// ChipReset drives the target's system reset line. This is the one
// cable operation framed as its own message type rather than a JTAG
// request.
func (c *Cable) ChipReset(active bool) error {
	return c.sendResetReq(active)
}

// Flush is a no-op: the proxy protocol is a strict one-request-one
// -response RPC with no client-side buffering to force out.
func (c *Cable) Flush() error {
	return nil
}
