package bridge_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscv-debug/bridge/bridge"
	"github.com/riscv-debug/bridge/config"
	"github.com/riscv-debug/bridge/jtag/simcable"
	"github.com/riscv-debug/bridge/netio"
)

const sampleConfig = `{
	"chain": {"force_dr_len_32": false},
	"cable": {"proxy_addr": "unused:0"},
	"debug_struct_addr": 4096,
	"listeners": {"rsp_port": 0, "raw_port": 0},
	"clusters": [
		{"cluster_id": 0, "kind": "fc", "power": "always", "ctrl": "single",
		 "cores": [{"dbg_unit_addr": 65536}]}
	]
}`

func newTestBridge(t *testing.T) (*bridge.Bridge, *netio.Loop) {
	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	cable := simcable.New([]uint32{0xdeadbeef})
	loop := netio.NewLoop()
	b, err := bridge.NewWithCable(cfg, cable, loop, bridge.Callbacks{})
	require.NoError(t, err)
	return b, loop
}

func TestNewWithCableWiresTargetFromConfig(t *testing.T) {
	b, _ := newTestBridge(t)
	require.Len(t, b.Target.AllCores(), 1)
	core, ok := b.Target.CoreByThreadID(0)
	require.True(t, ok)
	assert.EqualValues(t, 65536, core.DbgUnitAddr)
}

func TestNewWithCableRegistersBothLoopers(t *testing.T) {
	b, _ := newTestBridge(t)
	assert.NotNil(t, b.Ioloop)
	assert.NotNil(t, b.Reqloop)
	assert.NotNil(t, b.RSP)
	assert.NotNil(t, b.ReqServer)
}

// TestManagerTicksAgainstSimulatedTargetMemory exercises the manager's
// timer against the target's own bus rather than a loopmgr-local fake,
// with a debug struct placed at the pointer address from config. It runs
// the timer for 50 ms and makes no assertion about what the ticks did.
func TestManagerTicksAgainstSimulatedTargetMemory(t *testing.T) {
	b, loop := newTestBridge(t)

	dsAddr := uint32(0x8000)
	ptr := make([]byte, 4)
	binary.LittleEndian.PutUint32(ptr, dsAddr)
	require.NoError(t, b.Target.MemWrite(0x1000, ptr))
	require.NoError(t, b.Target.MemWrite(dsAddr, make([]byte, 0x120)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	b.Manager.Start(loop)
	time.Sleep(50 * time.Millisecond)
	b.Manager.Stop()
}
