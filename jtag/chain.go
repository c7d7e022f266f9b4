package jtag

import (
	"github.com/cesanta/errors"
)

// Device is one JTAG TAP in the chain.
type Device struct {
	ID      uint32
	IRLen   uint32
	Index   uint32
	InDebug bool
}

// Chain is the ordered sequence of JTAG devices discovered on the bus.
// Exactly one device is Selected at a time; the selection determines how
// many zero-bit pads are shifted before and after every DR/IR scan.
type Chain struct {
	Devices  []Device
	Selected int
}

// deviceIRLen is what discovery assigns every device: the measured
// per-device IR length always comes out to 4 bits for this family of
// debug TAPs.
const deviceIRLen = 4

// maxPoisonBits bounds the zero-run used while measuring a register's
// length; a chain longer than this is treated as a discovery failure
// rather than looping forever against a miswired cable.
const maxPoisonBits = 4096

// measureRegisterLength shifts zeros into the currently selected register
// (IR or DR, whichever the caller has already entered) until a 1 comes
// back out, which happens after exactly as many zero bits as the
// register is wide (TAP registers power up / reset to all-1s, so the
// leading 1 marks the boundary).
func measureRegisterLength(cable Cable) (int, error) {
	for n := 0; n < maxPoisonBits; n++ {
		tdo, err := cable.BitInOut(false, false)
		if err != nil {
			return 0, errors.Annotatef(err, "measuring register length")
		}
		if tdo {
			return n, nil
		}
	}
	return 0, errors.Errorf("register length exceeds %d bits, chain likely broken", maxPoisonBits)
}

// DiscoverChain performs auto-discovery: reset the chain, measure its
// total DR length (grouped into 32-bit IDCODE chunks, one per device),
// and read back each device's 32-bit ID.
//
// forceDRLen32 mirrors the one documented exception: some chips report an
// unreliable DR length measurement and must be told the chain is exactly
// one 32-bit-wide device.
func DiscoverChain(cable Cable, forceDRLen32 bool) (*Chain, error) {
	if err := cable.JTAGReset(true); err != nil {
		return nil, errors.Annotatef(err, "discovery: reset chain")
	}
	if err := cable.JTAGReset(false); err != nil {
		return nil, errors.Annotatef(err, "discovery: release reset")
	}

	var drBits int
	if forceDRLen32 {
		drBits = 32
	} else {
		n, err := measureRegisterLength(cable)
		if err != nil {
			return nil, errors.Annotatef(err, "discovery: measure DR length")
		}
		drBits = n
	}
	if drBits == 0 || drBits%32 != 0 {
		return nil, errors.Errorf("discovery: DR length %d bits is not a multiple of 32", drBits)
	}
	numDevices := drBits / 32

	ids, err := readIDCodes(cable, numDevices)
	if err != nil {
		return nil, errors.Annotatef(err, "discovery: read IDCODEs")
	}

	devices := make([]Device, numDevices)
	for i := 0; i < numDevices; i++ {
		devices[i] = Device{ID: ids[i], IRLen: deviceIRLen, Index: uint32(i)}
	}
	return &Chain{Devices: devices, Selected: 0}, nil
}

// readIDCodes shifts n*32 zero bits through DR (after the IDCODE capture
// on TAP reset, the devices present their IDCODE registers) and slices the
// result into one 32-bit ID per device, LSB-first per device as JTAG
// IDCODE scan order dictates.
func readIDCodes(cable Cable, n int) ([]uint32, error) {
	nBits := n * 32
	out := make([]byte, (nBits+7)/8)
	if err := cable.StreamInOut(nil, out, nBits, true); err != nil {
		return nil, err
	}
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		var id uint32
		for b := 0; b < 32; b++ {
			bitIdx := i*32 + b
			byteIdx := bitIdx / 8
			bitInByte := uint(bitIdx % 8)
			if out[byteIdx]&(1<<bitInByte) != 0 {
				id |= 1 << uint(b)
			}
		}
		ids[i] = id
	}
	return ids, nil
}

// Select changes which device subsequent DR/IR scans address. It
// invalidates InDebug for every device: per invariant 3, InDebug is only
// valid immediately after a successful IR load to the debug value and
// before any selection change.
func (c *Chain) Select(index int) error {
	if index < 0 || index >= len(c.Devices) {
		return errors.Errorf("device index %d out of range [0,%d)", index, len(c.Devices))
	}
	c.Selected = index
	for i := range c.Devices {
		c.Devices[i].InDebug = false
	}
	return nil
}

// padBits returns how many zero bits must be shifted before and after the
// selected device's slot in a chain-wide scan, and whether the selected
// device is last in the chain (which determines when TMS must be
// asserted on the final bit of a scan).
func (c *Chain) padBits() (before, after int, selectedIsLast bool) {
	before = c.Selected
	after = len(c.Devices) - c.Selected - 1
	selectedIsLast = c.Selected == len(c.Devices)-1
	return
}
