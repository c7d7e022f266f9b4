package loopmgr

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Request types carried in a hal_bridge_req_t's type field.
const (
	ReqConnect = iota
	ReqDisconnect
	ReqOpen
	ReqRead
	ReqWrite
	ReqClose
	ReqFBOpen
	ReqFBUpdate
	ReqTargetStatusSync
)

// reqArgs is the fixed-size argument block every request type reads a
// prefix of, starting right after the common {next,done,popped,type}
// header.
type reqArgs [4]uint32

// Framebuffer is the minimal local sink FB_OPEN/FB_UPDATE write into;
// real rendering is out of scope here.
type Framebuffer interface {
	Open(name string, width, height, format uint32) error
	Update(x, y, w, h uint32, pixels []byte) error
}

// Reqloop dequeues hal_bridge_req_t entries and services them against
// host-side files and an optional Framebuffer.
type Reqloop struct {
	bus Bus
	fb  Framebuffer

	files      map[uint32]*os.File
	nextFD     uint32
	connected  bool
}

func NewReqloop(bus Bus, fb Framebuffer) *Reqloop {
	return &Reqloop{bus: bus, fb: fb, files: make(map[uint32]*os.File), nextFD: 3}
}

func (r *Reqloop) Name() string { return "reqloop" }

func (r *Reqloop) RegisterProc(ds *DebugStruct) Result { return Continue }

// LoopProc services exactly one pending request per tick.
func (r *Reqloop) LoopProc(ds *DebugStruct) Result {
	reqAddr := ds.FirstBridgeReq
	if reqAddr == 0 {
		return Continue
	}
	if err := r.handleOne(ds, reqAddr); err != nil {
		glog.Warningf("reqloop: handling request at %#x: %v", reqAddr, err)
	}
	return Continue
}

func (r *Reqloop) handleOne(ds *DebugStruct, reqAddr uint32) error {
	hdr := make([]byte, reqOffPayload+16)
	if err := r.bus.MemRead(reqAddr, hdr); err != nil {
		return errors.Annotatef(err, "reading request header")
	}
	next := binary.LittleEndian.Uint32(hdr[reqOffNext:])
	reqType := binary.LittleEndian.Uint32(hdr[reqOffType:])
	var args reqArgs
	for i := range args {
		args[i] = binary.LittleEndian.Uint32(hdr[reqOffPayload+4*i:])
	}

	result, err := r.dispatch(ds, reqType, args)
	if err != nil {
		glog.Warningf("reqloop: request type %d failed: %v", reqType, err)
	}

	// Pop the node off the list before replying, so a notification the
	// target observes mid-callback never sees a stale head.
	if err := writeU32(r.bus, ds.Addr+offFirstBridgeReq, next); err != nil {
		return errors.Annotatef(err, "unlinking request")
	}
	if err := writeU32(r.bus, reqAddr+reqOffPopped, 1); err != nil {
		return errors.Annotatef(err, "marking request popped")
	}
	if err := writeU32(r.bus, reqAddr+0x14, uint32(result)); err != nil {
		return errors.Annotatef(err, "writing request result")
	}
	if err := writeU32(r.bus, reqAddr+reqOffDone, 1); err != nil {
		return errors.Annotatef(err, "marking request done")
	}
	return ds.notify()
}

func (r *Reqloop) dispatch(ds *DebugStruct, reqType uint32, args reqArgs) (int32, error) {
	switch reqType {
	case ReqConnect:
		r.connected = true
		return 0, nil
	case ReqDisconnect:
		r.connected = false
		return 0, nil
	case ReqOpen:
		return r.handleOpen(ds, args)
	case ReqRead:
		return r.handleRead(ds, args)
	case ReqWrite:
		return r.handleWrite(ds, args)
	case ReqClose:
		return r.handleClose(args)
	case ReqFBOpen:
		return r.handleFBOpen(ds, args)
	case ReqFBUpdate:
		return r.handleFBUpdate(ds, args)
	case ReqTargetStatusSync:
		return 0, nil
	default:
		return -1, errors.Errorf("unknown request type %d", reqType)
	}
}

func (r *Reqloop) handleOpen(ds *DebugStruct, args reqArgs) (int32, error) {
	namePtr, nameLen, flags := args[0], args[1], args[2]
	nameBuf := make([]byte, nameLen)
	if err := r.bus.MemRead(namePtr, nameBuf); err != nil {
		return -1, err
	}
	goFlags := os.O_RDONLY
	switch {
	case flags&0x2 != 0: // O_RDWR
		goFlags = os.O_RDWR
	case flags&0x1 != 0: // O_WRONLY
		goFlags = os.O_WRONLY
	}
	if flags&0x200 != 0 { // O_CREAT
		goFlags |= os.O_CREATE
	}
	f, err := os.OpenFile(string(nameBuf), goFlags, 0644)
	if err != nil {
		return -1, err
	}
	fd := r.nextFD
	r.nextFD++
	r.files[fd] = f
	return int32(fd), nil
}

func (r *Reqloop) handleRead(ds *DebugStruct, args reqArgs) (int32, error) {
	fd, ptr, length := args[0], args[1], args[2]
	f, ok := r.files[fd]
	if !ok {
		return -1, errors.Errorf("read on unknown fd %d", fd)
	}
	buf := make([]byte, length)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return -1, err
	}
	if n > 0 {
		if werr := r.bus.MemWrite(ptr, buf[:n]); werr != nil {
			return -1, werr
		}
	}
	return int32(n), nil
}

func (r *Reqloop) handleWrite(ds *DebugStruct, args reqArgs) (int32, error) {
	fd, ptr, length := args[0], args[1], args[2]
	f, ok := r.files[fd]
	if !ok {
		return -1, errors.Errorf("write on unknown fd %d", fd)
	}
	buf := make([]byte, length)
	if err := r.bus.MemRead(ptr, buf); err != nil {
		return -1, err
	}
	n, err := f.Write(buf)
	if err != nil {
		return -1, err
	}
	return int32(n), nil
}

func (r *Reqloop) handleClose(args reqArgs) (int32, error) {
	fd := args[0]
	f, ok := r.files[fd]
	if !ok {
		return -1, errors.Errorf("close on unknown fd %d", fd)
	}
	delete(r.files, fd)
	if err := f.Close(); err != nil {
		return -1, err
	}
	return 0, nil
}

func (r *Reqloop) handleFBOpen(ds *DebugStruct, args reqArgs) (int32, error) {
	if r.fb == nil {
		return -1, errors.Errorf("no framebuffer sink configured")
	}
	namePtr, width, height, format := args[0], args[1], args[2], args[3]
	nameBuf := make([]byte, 64)
	if err := r.bus.MemRead(namePtr, nameBuf); err != nil {
		return -1, err
	}
	if err := r.fb.Open(string(nameBuf), width, height, format); err != nil {
		return -1, err
	}
	return 0, nil
}

func (r *Reqloop) handleFBUpdate(ds *DebugStruct, args reqArgs) (int32, error) {
	if r.fb == nil {
		return -1, errors.Errorf("no framebuffer sink configured")
	}
	addr, x, y := args[0], args[1], args[2]
	w := args[3] & 0xffff
	h := args[3] >> 16
	pixels := make([]byte, w*h)
	if err := r.bus.MemRead(addr, pixels); err != nil {
		return -1, err
	}
	if err := r.fb.Update(x, y, w, h, pixels); err != nil {
		return -1, err
	}
	return 0, nil
}
