package loopmgr

import "encoding/binary"

// Bus is the bus access a Manager needs to read/write the target's
// shared debug structure; satisfied by *target.Target.
type Bus interface {
	MemRead(addr uint32, buf []byte) error
	MemWrite(addr uint32, buf []byte) error
}

// putcBufferSize matches hal_debug_struct_t's putc_buffer[256].
const putcBufferSize = 256

// Field offsets within hal_debug_struct_t, derived from the documented
// field order (no header in the retrieved sources spells out the exact
// layout) assuming natural 4-byte packing.
const (
	offUseInternalPrintf = 0x00
	offExitStatus        = 0x04
	offPendingPutchar    = 0x08
	offPutcBuffer        = 0x0C
	offNotifReqAddr      = offPutcBuffer + putcBufferSize // 0x10C
	offNotifReqValue     = offNotifReqAddr + 4
	offFirstBridgeReq    = offNotifReqValue + 4
	offBridgeConnected   = offFirstBridgeReq + 4
	offTargetState       = offBridgeConnected + 4

	debugStructSize = offTargetState + 4
)

// hal_bridge_req_t field offsets; payload starts after the common
// header and is interpreted per request type.
const (
	reqOffNext   = 0x00
	reqOffDone   = 0x04
	reqOffPopped = 0x08
	reqOffType   = 0x0C
	reqOffPayload = 0x10
)

// DebugStruct is a snapshot of hal_debug_struct_t read from target
// memory for one tick.
type DebugStruct struct {
	bus  Bus
	Addr uint32

	UseInternalPrintf uint32
	ExitStatus        uint32
	PendingPutchar    uint32
	PutcBuffer        [putcBufferSize]byte
	NotifReqAddr      uint32
	NotifReqValue     uint32
	FirstBridgeReq    uint32
	BridgeConnected   uint32
	TargetState       uint32
}

// readDebugStruct dereferences the pointer at ptrAddr and reads the
// full structure it points to, or returns ok=false if the pointer is
// null.
func readDebugStruct(bus Bus, ptrAddr uint32) (*DebugStruct, bool, error) {
	buf := make([]byte, 4)
	if err := bus.MemRead(ptrAddr, buf); err != nil {
		return nil, false, err
	}
	addr := binary.LittleEndian.Uint32(buf)
	if addr == 0 {
		return nil, false, nil
	}
	raw := make([]byte, debugStructSize)
	if err := bus.MemRead(addr, raw); err != nil {
		return nil, false, err
	}
	ds := &DebugStruct{bus: bus, Addr: addr}
	ds.UseInternalPrintf = binary.LittleEndian.Uint32(raw[offUseInternalPrintf:])
	ds.ExitStatus = binary.LittleEndian.Uint32(raw[offExitStatus:])
	ds.PendingPutchar = binary.LittleEndian.Uint32(raw[offPendingPutchar:])
	copy(ds.PutcBuffer[:], raw[offPutcBuffer:offPutcBuffer+putcBufferSize])
	ds.NotifReqAddr = binary.LittleEndian.Uint32(raw[offNotifReqAddr:])
	ds.NotifReqValue = binary.LittleEndian.Uint32(raw[offNotifReqValue:])
	ds.FirstBridgeReq = binary.LittleEndian.Uint32(raw[offFirstBridgeReq:])
	ds.BridgeConnected = binary.LittleEndian.Uint32(raw[offBridgeConnected:])
	ds.TargetState = binary.LittleEndian.Uint32(raw[offTargetState:])
	return ds, true, nil
}

func (ds *DebugStruct) writePendingPutchar(v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return ds.bus.MemWrite(ds.Addr+offPendingPutchar, buf)
}

// notify writes value to addr, the (notif_req_addr, notif_req_value)
// pair the target polls to learn a request completed.
func (ds *DebugStruct) notify() error {
	if ds.NotifReqAddr == 0 {
		return nil
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, ds.NotifReqValue)
	return ds.bus.MemWrite(ds.NotifReqAddr, buf)
}

func readU32(bus Bus, addr uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := bus.MemRead(addr, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func writeU32(bus Bus, addr uint32, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return bus.MemWrite(addr, buf)
}
