package breakpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscv-debug/bridge/breakpoint"
)

type fakeMem struct {
	words map[uint32]uint32
}

func newFakeMem() *fakeMem { return &fakeMem{words: make(map[uint32]uint32)} }

func (m *fakeMem) Read32(addr uint32) (uint32, error) { return m.words[addr], nil }
func (m *fakeMem) Write32(addr uint32, v uint32) error {
	m.words[addr] = v
	return nil
}
func (m *fakeMem) Write16(addr uint32, v uint16) error {
	m.words[addr] = (m.words[addr] &^ 0xffff) | uint32(v)
	return nil
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		instr      uint32
		compressed bool
	}{
		{"uncompressed", 0x00000013, false}, // nop, low bits 0b11
		{"compressed", 0x00004501, true},    // low bits 0b01
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mem := newFakeMem()
			mem.words[0x1000] = c.instr
			tbl := breakpoint.NewTable(mem)

			require.NoError(t, tbl.Insert(0x1000))
			rec, ok := tbl.Lookup(0x1000)
			require.True(t, ok)
			assert.Equal(t, c.compressed, rec.Compressed)
			assert.True(t, rec.Enabled)
			assert.True(t, tbl.HaveChanged())

			if c.compressed {
				assert.Equal(t, uint32(0x9002), mem.words[0x1000]&0xffff)
			} else {
				assert.Equal(t, uint32(0x00100073), mem.words[0x1000])
			}

			require.NoError(t, tbl.Remove(0x1000))
			assert.Equal(t, c.instr, mem.words[0x1000])
			_, ok = tbl.Lookup(0x1000)
			assert.False(t, ok)
		})
	}
}

func TestDisableThenEnableRestoresTrap(t *testing.T) {
	mem := newFakeMem()
	mem.words[0x2000] = 0x00000013
	tbl := breakpoint.NewTable(mem)
	require.NoError(t, tbl.Insert(0x2000))
	require.NoError(t, tbl.Disable(0x2000))

	rec, _ := tbl.Lookup(0x2000)
	assert.False(t, rec.Enabled)
	assert.Equal(t, uint32(0x00000013), mem.words[0x2000])

	require.NoError(t, tbl.EnableAll())
	rec, _ = tbl.Lookup(0x2000)
	assert.True(t, rec.Enabled)
	assert.Equal(t, uint32(0x00100073), mem.words[0x2000])
}

func TestClearHistory(t *testing.T) {
	mem := newFakeMem()
	tbl := breakpoint.NewTable(mem)
	require.NoError(t, tbl.Insert(0x3000))
	assert.True(t, tbl.HaveChanged())
	tbl.ClearHistory()
	assert.False(t, tbl.HaveChanged())
}

func TestDisableUnknownAddressIsNoOp(t *testing.T) {
	mem := newFakeMem()
	tbl := breakpoint.NewTable(mem)
	assert.NoError(t, tbl.Disable(0x4000))
}
