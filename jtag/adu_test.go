package jtag_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscv-debug/bridge/jtag"
	"github.com/riscv-debug/bridge/jtag/simcable"
)

func TestDiscoverChainRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 5} {
		ids := make([]uint32, n)
		for i := range ids {
			ids[i] = r.Uint32()
		}
		cable := simcable.New(ids)
		chain, err := jtag.DiscoverChain(cable, false)
		require.NoError(t, err)
		require.Len(t, chain.Devices, n)
		for i, d := range chain.Devices {
			assert.Equal(t, ids[i], d.ID, "device %d id", i)
		}
	}
}

func TestCRC32SingleBitFlipChangesResult(t *testing.T) {
	payload := []byte{0x01, 0x23, 0x45, 0x67, 0x89}
	base := jtag.CRC32(payload)
	for i := range payload {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), payload...)
			flipped[i] ^= 1 << uint(bit)
			assert.NotEqual(t, base, jtag.CRC32(flipped), "byte %d bit %d", i, bit)
		}
	}
}

func TestAdapterAccessWriteThenRead(t *testing.T) {
	cable := simcable.New([]uint32{0xdeadbeef})
	chain, err := jtag.DiscoverChain(cable, false)
	require.NoError(t, err)

	a := jtag.NewAdapter(cable, chain, jtag.Config{})
	want := []byte{0x11, 0x22, 0x33, 0x44}
	require.NoError(t, a.Access(true, 0x1000, want))

	got := make([]byte, 4)
	require.NoError(t, a.Access(false, 0x1000, got))
	assert.Equal(t, want, got)
}
