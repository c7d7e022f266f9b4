package loopmgr

import (
	"io"

	"github.com/golang/glog"
)

// Ioloop drains pending_putchar/putc_buffer into out, one batch per
// tick, switching the manager to fast cadence while more bytes remain
// and back to slow once drained.
type Ioloop struct {
	out     io.Writer
	mgr     *Manager
	onExit  []func(code int32)
	running bool
}

func NewIoloop(out io.Writer, mgr *Manager) *Ioloop {
	return &Ioloop{out: out, mgr: mgr}
}

func (l *Ioloop) Name() string { return "ioloop" }

// OnExit registers a callback fired when the manager observes a
// program-exit event while this looper is attached.
func (l *Ioloop) OnExit(fn func(code int32)) {
	l.onExit = append(l.onExit, fn)
}

func (l *Ioloop) RegisterProc(ds *DebugStruct) Result {
	l.mgr.SetLoopSpeed(true)
	l.running = true
	return Continue
}

func (l *Ioloop) LoopProc(ds *DebugStruct) Result {
	n := ds.PendingPutchar
	if n == 0 {
		l.mgr.SetLoopSpeed(false)
		return Continue
	}
	if n > putcBufferSize {
		n = putcBufferSize
	}
	if _, err := l.out.Write(ds.PutcBuffer[:n]); err != nil {
		glog.Warningf("ioloop: writing %d bytes: %v", n, err)
	}
	if err := ds.writePendingPutchar(0); err != nil {
		glog.Warningf("ioloop: clearing pending_putchar: %v", err)
		return Continue
	}
	l.mgr.SetLoopSpeed(true)
	return Continue
}

// FireExit is invoked by the Manager's OnExit hook when it is wired to
// this looper's callback queue (the bridge composition root does this
// wiring).
func (l *Ioloop) FireExit(code int32) {
	for _, fn := range l.onExit {
		fn(code)
	}
}
