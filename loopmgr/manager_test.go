package loopmgr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mem map[uint32][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{mem: make(map[uint32][]byte)} }

func (b *fakeBus) MemRead(addr uint32, buf []byte) error {
	for i := range buf {
		if existing, ok := b.mem[addr+uint32(i)]; ok {
			buf[i] = existing[0]
		} else {
			buf[i] = 0
		}
	}
	return nil
}

func (b *fakeBus) MemWrite(addr uint32, buf []byte) error {
	for i, v := range buf {
		b.mem[addr+uint32(i)] = []byte{v}
	}
	return nil
}

func (b *fakeBus) setU32(addr uint32, v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_ = b.MemWrite(addr, buf)
}

type countingLooper struct {
	name  string
	calls int
	order *[]string
}

func (c *countingLooper) Name() string { return c.name }
func (c *countingLooper) RegisterProc(ds *DebugStruct) Result {
	return Continue
}
func (c *countingLooper) LoopProc(ds *DebugStruct) Result {
	c.calls++
	*c.order = append(*c.order, c.name)
	return Continue
}

func TestTickRescheduleWhenDebugStructNull(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, 0x1000) // pointer at 0x1000 left at zero
	order := []string{}
	l := &countingLooper{name: "a", order: &order}
	m.Add(l)
	m.tick()
	assert.Equal(t, 0, l.calls)
}

func TestLoopersRunInInsertionOrderEachTick(t *testing.T) {
	bus := newFakeBus()
	bus.setU32(0x1000, 0x2000) // debug_struct_addr -> 0x2000
	m := NewManager(bus, 0x1000)
	order := []string{}
	a := &countingLooper{name: "a", order: &order}
	b := &countingLooper{name: "b", order: &order}
	c := &countingLooper{name: "c", order: &order}
	m.Add(a)
	m.Add(b)
	m.Add(c)

	m.tick()
	require.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
}

func TestProgramExitStopsAllLoopersAndFiresOnExit(t *testing.T) {
	bus := newFakeBus()
	bus.setU32(0x1000, 0x2000)
	bus.setU32(0x2000+offExitStatus, 0x80000007)
	m := NewManager(bus, 0x1000)
	order := []string{}
	a := &countingLooper{name: "a", order: &order}
	m.Add(a)

	var gotExit ExitEvent
	m.OnExit = func(e ExitEvent) { gotExit = e }

	m.tick()
	assert.Equal(t, int32(7), gotExit.Code)
	assert.Equal(t, 0, a.calls) // stopped before any looper ran this tick
	assert.True(t, m.stoppedAll)

	m.tick()
	assert.Equal(t, 0, a.calls) // no further ticks do anything once stopped
}

func TestAvailableGateSkipsTickWhenUnavailable(t *testing.T) {
	bus := newFakeBus()
	bus.setU32(0x1000, 0x2000)
	bus.setU32(0x3000, 0) // target.available == 0
	m := NewManager(bus, 0x1000)
	m.SetAvailableAddr(0x3000)
	order := []string{}
	a := &countingLooper{name: "a", order: &order}
	m.Add(a)

	m.tick()
	assert.Equal(t, 0, a.calls)
}
