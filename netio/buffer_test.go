package netio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBufferWriteRead(t *testing.T) {
	b := NewCircularBuffer(8)
	n := b.Write([]byte("hello"))
	require.Equal(t, 5, n)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, b.Free())

	out := make([]byte, 5)
	n = b.Read(out)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
	assert.True(t, b.IsEmpty())
}

func TestCircularBufferWraps(t *testing.T) {
	b := NewCircularBuffer(4)
	require.Equal(t, 4, b.Write([]byte("abcd")))
	out := make([]byte, 2)
	require.Equal(t, 2, b.Read(out))
	assert.Equal(t, "ab", string(out))

	// write 2 more bytes; they should wrap around the ring
	require.Equal(t, 2, b.Write([]byte("ef")))
	rest := make([]byte, 4)
	n := b.Read(rest)
	require.Equal(t, 4, n)
	assert.Equal(t, "cdef", string(rest[:n]))
}

func TestCircularBufferFullDropsExcess(t *testing.T) {
	b := NewCircularBuffer(4)
	n := b.Write([]byte("abcdef"))
	assert.Equal(t, 4, n)
	assert.True(t, b.IsFull())
}

func TestCircularBufferWatermarks(t *testing.T) {
	b := NewCircularBuffer(100)
	b.Write(make([]byte, 76))
	assert.GreaterOrEqual(t, b.FillRatio(), 0.75)
	b.Discard(52)
	assert.LessOrEqual(t, b.FillRatio(), 0.25)
}
