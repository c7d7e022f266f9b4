package rsp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscv-debug/bridge/target"
)

type fakeBus struct {
	mem map[uint32][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{mem: make(map[uint32][]byte)} }

func (b *fakeBus) Access(write bool, addr uint32, buf []byte) error {
	if write {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		b.mem[addr] = cp
	} else if existing, ok := b.mem[addr]; ok {
		copy(buf, existing)
	}
	return nil
}

func (b *fakeBus) setWord(addr uint32, v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	b.mem[addr] = buf
}

func newTestTarget(t *testing.T) (*target.Target, *fakeBus) {
	bus := newFakeBus()
	cfg := target.Config{
		Clusters: []target.ClusterConfig{
			{ClusterID: 0, Kind: "fc", AlwaysPowered: true, Cores: []target.CoreConfig{{DbgUnitAddr: 0x1000}}},
		},
	}
	tg, err := target.New(bus, cfg)
	require.NoError(t, err)
	require.NoError(t, tg.AllCores()[0].SetPower(true))
	return tg, bus
}

func newTestClient(t *testing.T) (*Client, *target.Target, *fakeBus) {
	tg, bus := newTestTarget(t)
	c := newClient(nil, tg, Callbacks{})
	c.selectedAll = true
	return c, tg, bus
}

func TestHandleQuestionReportsNoneWhenRunning(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.Equal(t, "S00", c.handleQuestion()) // not stopped, not sleeping -> NONE
}

func TestHandleReadWriteGPR(t *testing.T) {
	c, _, _ := newTestClient(t)
	reply := c.handleWriteReg("5=deadbeef")
	assert.Equal(t, "OK", reply)
	assert.Equal(t, "deadbeef", c.handleReadReg("5"))
}

func TestHandleReadMISAConstant(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.Equal(t, "04000000", c.handleReadReg("342")) // 0x41+0x301 = 0x342
}

func TestHandleMemReadWrite(t *testing.T) {
	c, _, bus := newTestClient(t)
	reply := c.handleMemWrite("8000,4:deadbeef", false)
	assert.Equal(t, "OK", reply)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, bus.mem[0x8000])

	got := c.handleMemRead("8000,4")
	assert.Equal(t, "deadbeef", got)
}

func TestHandleBreakpointInsertRemove(t *testing.T) {
	c, _, bus := newTestClient(t)
	bus.setWord(0x9000, 0x00000013)

	assert.Equal(t, "OK", c.handleBreakpoint("0,9000,4", true))
	assert.Equal(t, []byte{0x73, 0x00, 0x10, 0x00}, bus.mem[0x9000])

	assert.Equal(t, "OK", c.handleBreakpoint("0,9000,4", false))
	assert.Equal(t, []byte{0x13, 0x00, 0x00, 0x00}, bus.mem[0x9000])
}

func TestSetSelectedThreadConvention(t *testing.T) {
	c, _, _ := newTestClient(t)

	c.setSelectedThread(-1)
	assert.True(t, c.selectedAll)

	c.setSelectedThread(0)
	assert.False(t, c.selectedAll)
	assert.Equal(t, 0, c.selectedThread)

	c.setSelectedThread(3)
	assert.False(t, c.selectedAll)
	assert.Equal(t, 2, c.selectedThread)
}

func TestQSupportedAdvertisesVCont(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.Contains(t, c.handleQ("Supported:foo"), "vContSupported+")
}

func TestThreadInfoReplyListsDenseOneBasedIDs(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.Equal(t, "m1", c.threadInfoReply())
}

func TestQRcmdForwardsDecodedASCII(t *testing.T) {
	c, _, _ := newTestClient(t)
	var seen string
	c.cb.QRcmd = func(cmd string) (string, error) {
		seen = cmd
		return "ok", nil
	}
	reply := c.handleQRcmd("68656c6c6f") // "hello"
	assert.Equal(t, "hello", seen)
	assert.Equal(t, "6f6b", reply)
}

func TestDispatchUnknownCommandIgnored(t *testing.T) {
	c, _, _ := newTestClient(t)
	reply, disconnect := c.dispatch([]byte("~unknown"))
	assert.Equal(t, "", reply)
	assert.False(t, disconnect)
}

func TestDispatchDRequestsDisconnect(t *testing.T) {
	c, _, _ := newTestClient(t)
	reply, disconnect := c.dispatch([]byte("D"))
	assert.Equal(t, "OK", reply)
	assert.True(t, disconnect)
}
