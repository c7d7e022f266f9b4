package jtag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAccessCoversRangeExactlyOnce(t *testing.T) {
	cases := []struct {
		addr uint32
		size int
	}{
		{0x1000, 1}, {0x1001, 3}, {0x1003, 9}, {0x2000, 256}, {0x2001, 257}, {0x0, 4},
	}
	for _, c := range cases {
		parts := splitAccess(c.addr, c.size, DefaultMaxBurstBytes, DefaultWideBurstBytes)
		covered := make([]bool, c.size)
		for _, p := range parts {
			for i := 0; i < p.width; i++ {
				assert.False(t, covered[p.offset+i], "overlap at offset %d for addr=%#x size=%d", p.offset+i, c.addr, c.size)
				covered[p.offset+i] = true
			}
		}
		for i, got := range covered {
			assert.True(t, got, "byte %d not covered for addr=%#x size=%d", i, c.addr, c.size)
		}
	}
}

func TestSplitAccessWidthOrder(t *testing.T) {
	parts := splitAccess(0x2003, 11, DefaultMaxBurstBytes, DefaultWideBurstBytes)
	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	require(len(parts) > 0, "expected at least one part")
	// One byte takes 0x2003 to 0x2004, already 4-aligned, so no 2-byte
	// part follows; then one 8-byte bulk part and a trailing 2-byte part.
	assert.Equal(t, 1, parts[0].width)
}
