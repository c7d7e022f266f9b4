package loopmgr

import (
	"time"

	"github.com/golang/glog"

	"github.com/riscv-debug/bridge/netio"
)

const (
	// FastCadence and SlowCadence are the loop manager's two tick
	// speeds, switched via SetLoopSpeed.
	FastCadence = 500 * time.Microsecond
	SlowCadence = 10 * time.Second
)

// ExitEvent is the program-exit notification loopmgr emits when it
// observes exit_status's bit 31 set.
type ExitEvent struct {
	Code int32
}

type loopEntry struct {
	looper     Looper
	registered bool
	paused     bool
}

// Manager is the loop manager: it owns an ordered list of loopers and a
// single repeating timer, and arbitrates all access to the shared
// hal_debug_struct_t.
type Manager struct {
	bus              Bus
	ptrAddr          uint32
	availableAddr    uint32
	hasAvailable     bool

	entries []*loopEntry
	timer   *netio.Timer
	speed   time.Duration

	// Suspended makes the manager skip ticks entirely while it is true.
	// No package in this repository sets it; in particular the RSP server
	// does not set it when a client attaches.
	Suspended bool

	OnExit func(ExitEvent)

	stoppedAll bool
}

// NewManager constructs a Manager that will dereference the pointer at
// ptrAddr on every tick. The target.available check is off until
// SetAvailableAddr is called.
func NewManager(bus Bus, ptrAddr uint32) *Manager {
	return &Manager{bus: bus, ptrAddr: ptrAddr, speed: FastCadence}
}

func (m *Manager) SetAvailableAddr(addr uint32) {
	m.availableAddr = addr
	m.hasAvailable = true
}

// Add appends a looper to the end of the ordered list; it will receive
// RegisterProc on the next tick it is eligible for; if that returns
// Continue, LoopProc runs on that same tick and on every tick after.
func (m *Manager) Add(l Looper) {
	m.entries = append(m.entries, &loopEntry{looper: l})
}

// SetLoopSpeed switches the repeating timer's cadence. fast selects
// FastCadence, else SlowCadence.
func (m *Manager) SetLoopSpeed(fast bool) {
	if fast {
		m.speed = FastCadence
	} else {
		m.speed = SlowCadence
	}
	if m.timer != nil {
		m.timer.SetTimeout(m.speed)
	}
}

// Start schedules the manager's repeating timer on loop.
func (m *Manager) Start(loop *netio.Loop) {
	m.timer = loop.Schedule(func(now time.Time) (time.Duration, bool) {
		m.tick()
		if m.stoppedAll {
			return 0, false
		}
		return m.speed, true
	})
	m.timer.SetTimeout(m.speed)
}

func (m *Manager) Stop() {
	if m.timer != nil {
		m.timer.Cancel()
	}
}

// tick runs the five-step sequence: null-pointer reschedule, the
// target.available gate, program-exit detection, per-looper dispatch,
// then applying each looper's result.
func (m *Manager) tick() {
	if m.Suspended || m.stoppedAll {
		return
	}

	ds, ok, err := readDebugStruct(m.bus, m.ptrAddr)
	if err != nil {
		glog.Warningf("loopmgr: reading debug struct pointer: %v", err)
		return
	}
	if !ok {
		return // debug_struct_addr is still null; reschedule silently.
	}

	if m.hasAvailable {
		avail, err := readU32(m.bus, m.availableAddr)
		if err != nil {
			glog.Warningf("loopmgr: reading target.available: %v", err)
			return
		}
		if avail == 0 {
			return
		}
	}

	if ds.ExitStatus&0x80000000 != 0 {
		code := int32(ds.ExitStatus &^ 0x80000000)
		// Sign-extend the lower 31 bits.
		code = code<<1>>1
		if m.OnExit != nil {
			m.OnExit(ExitEvent{Code: code})
		}
		m.stopAll()
		return
	}

	for _, e := range m.entries {
		if e.paused {
			continue
		}
		if !e.registered {
			e.registered = true
			if res := e.looper.RegisterProc(ds); res != Continue {
				m.applyResult(e, res)
				continue
			}
		}
		res := e.looper.LoopProc(ds)
		m.applyResult(e, res)
	}
}

func (m *Manager) applyResult(e *loopEntry, res Result) {
	switch res {
	case Continue:
	case Pause:
		e.paused = true
	case Stop:
		m.removeEntry(e)
	case StopAll:
		m.stopAll()
	}
}

func (m *Manager) removeEntry(target *loopEntry) {
	out := m.entries[:0]
	for _, e := range m.entries {
		if e != target {
			out = append(out, e)
		}
	}
	m.entries = out
}

func (m *Manager) stopAll() {
	m.stoppedAll = true
	m.entries = nil
}

// Resume clears a paused looper's flag, letting it run again on the
// next tick. Loopers call this on themselves via the state the Design
// Notes describe as the looper's own one-shot timer clearing Paused.
func (m *Manager) Resume(l Looper) {
	for _, e := range m.entries {
		if e.looper == l {
			e.paused = false
			return
		}
	}
}
