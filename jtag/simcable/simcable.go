// Package simcable provides an in-memory jtag.Cable double used by tests:
// a simulated chain of devices with fixed IDCODEs and a simulated AXI
// module backed by a flat byte-addressable memory, so the adapter's
// discovery and burst logic can be exercised without real hardware.
package simcable

import (
	"github.com/cesanta/errors"
	"github.com/riscv-debug/bridge/jtag"
)

// Cable simulates a JTAG chain of devices (each presenting a fixed IDCODE
// on DR scan) sitting in front of an Advanced Debug Unit backed by Mem.
type Cable struct {
	IDCodes []uint32
	Mem     map[uint32][]byte // sparse, addressed by burst start address

	// shift state
	irMode     bool
	drBits     []bool
	irBits     []bool
	pos        int
	lastBurst  burstState
}

type burstState struct {
	haveCmd   bool
	write     bool
	addr      uint32
	count     int
	bitsSoFar int
	payload   []byte
}

func New(idcodes []uint32) *Cable {
	return &Cable{IDCodes: idcodes, Mem: make(map[uint32][]byte)}
}

var _ jtag.Cable = (*Cable)(nil)

// concatIDBits returns the IDCODE bit stream the simulated chain presents
// after a reset, LSB-first per device, lowest-index device first.
func (c *Cable) concatIDBits() []bool {
	var bits []bool
	for _, id := range c.IDCodes {
		for i := 0; i < 32; i++ {
			bits = append(bits, (id>>uint(i))&1 != 0)
		}
	}
	return bits
}

func (c *Cable) JTAGReset(active bool) error {
	if active {
		c.drBits = c.concatIDBits()
		c.pos = 0
		c.lastBurst = burstState{}
	}
	return nil
}

func (c *Cable) ChipReset(active bool) error { return nil }
func (c *Cable) Flush() error                { return nil }
func (c *Cable) WriteTMS(bit bool) error     { return nil }

// BitInOut simulates shifting a single bit through whichever register is
// "active" -- for the purposes of discovery (reading DR length) and burst
// polling (reading the start bit), callers only care about TDO, so this
// drains from drBits (set up by JTAGReset) when present, else returns
// false (mimicking bypass/zero).
func (c *Cable) BitInOut(tdi bool, tms bool) (bool, error) {
	if c.pos < len(c.drBits) {
		b := c.drBits[c.pos]
		c.pos++
		return b, nil
	}
	// Past the IDCODE stream: a poisoned-with-ones register boundary.
	return true, nil
}

// StreamInOut interprets nBits of shifted-in data as whatever burst
// protocol step is next expected, driving the simulated AXI memory. This
// intentionally understands only the subset of shifts the Adapter issues
// (IR loads, command words, payload, CRC) well enough to round-trip
// Access calls in tests.
func (c *Cable) StreamInOut(in, out []byte, nBits int, lastTMS bool) error {
	if !c.lastBurst.haveCmd && nBits == len(c.IDCodes)*32 {
		// Discovery's IDCODE read.
		bits := c.concatIDBits()
		packBits(out, bits)
		return nil
	}
	switch nBits {
	case 53:
		cmd := unpackBits(in, 53)
		opcode := 0
		for i := 0; i < 4; i++ {
			if cmd[1+i] {
				opcode |= 1 << i
			}
		}
		var addr uint32
		for i := 0; i < 32; i++ {
			if cmd[5+i] {
				addr |= 1 << uint(i)
			}
		}
		var count uint16
		for i := 0; i < 16; i++ {
			if cmd[37+i] {
				count |= 1 << uint(i)
			}
		}
		c.lastBurst = burstState{haveCmd: true, write: opcode == 0x1, addr: addr, count: int(count)}
		return nil
	default:
		return c.streamBurstBody(in, out, nBits)
	}
}

func (c *Cable) streamBurstBody(in, out []byte, nBits int) error {
	b := &c.lastBurst
	if !b.haveCmd {
		// IR load or other bookkeeping shift the adapter performs; accept
		// and ignore.
		return nil
	}

	switch {
	case nBits == 1 && !b.write && len(b.payload) == 0 && b.bitsSoFar == 0:
		// start-bit poll for a read: always immediately ready.
		if out != nil {
			out[0] = 1
		}
		return nil
	case nBits == 1 && b.write && b.bitsSoFar == 0 && len(b.payload) == 0:
		// start bit for a write: accept unconditionally.
		b.bitsSoFar = -1 // mark "start bit consumed"
		return nil
	case b.write && b.bitsSoFar == -1 && nBits == b.count*8:
		b.payload = unpackToBytes(in, nBits)
		b.bitsSoFar = nBits
		return nil
	case b.write && nBits == 32:
		// trailing CRC for a write: accept and commit memory now; the
		// match-bit shift that follows finalizes the transaction.
		mem := c.Mem[b.addr]
		if len(mem) < len(b.payload) {
			mem = make([]byte, len(b.payload))
		}
		copy(mem, b.payload)
		c.Mem[b.addr] = mem
		return nil
	case b.write && nBits == 2:
		if out != nil {
			out[0] = 0x1
		}
		*b = burstState{}
		return nil
	case !b.write && nBits == b.count*8:
		mem := c.Mem[b.addr]
		data := make([]byte, b.count)
		copy(data, mem)
		packBits(out, bytesToBits(data, nBits))
		b.payload = data
		return nil
	case !b.write && nBits == 33:
		crc := jtag.CRC32(b.payload)
		bits := make([]bool, 33)
		for i := 0; i < 32; i++ {
			bits[1+i] = (crc>>uint(i))&1 != 0
		}
		packBits(out, bits)
		*b = burstState{}
		return nil
	}
	return errors.Errorf("simcable: unexpected shift of %d bits in burst state %+v", nBits, *b)
}

func packBits(dst []byte, bits []bool) {
	if dst == nil {
		return
	}
	for i, b := range bits {
		if b {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}

func unpackBits(src []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (src[i/8]>>uint(i%8))&1 != 0
	}
	return out
}

func unpackToBytes(src []byte, nBits int) []byte {
	out := make([]byte, (nBits+7)/8)
	copy(out, src)
	return out
}

func bytesToBits(data []byte, nBits int) []bool {
	out := make([]bool, nBits)
	for i := 0; i < nBits; i++ {
		out[i] = (data[i/8]>>uint(i%8))&1 != 0
	}
	return out
}
