package proxycable

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscv-debug/bridge/netio"
)

// newPipeCable wires a Cable to one end of an in-memory net.Pipe, handing
// the test the other end to play proxy and inspect what was sent.
func newPipeCable(t *testing.T) (*Cable, net.Conn) {
	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close(); srv.Close() })
	return &Cable{sock: netio.NewSyncSocket(client)}, srv
}

func readReq(t *testing.T, srv net.Conn, payloadLen int) (msgType uint32, bits uint16, tdo uint8, payload []byte) {
	hdr := make([]byte, 7)
	_, err := readFull(srv, hdr)
	require.NoError(t, err)
	msgType = binary.LittleEndian.Uint32(hdr[0:4])
	bits = binary.LittleEndian.Uint16(hdr[4:6])
	tdo = hdr[6]
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		_, err = readFull(srv, payload)
		require.NoError(t, err)
	}
	return
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if err != nil {
			return read, err
		}
		read += n
	}
	return read, nil
}

func TestStreamInOutAssertsTRSTOnEveryByteExceptReset(t *testing.T) {
	c, srv := newPipeCable(t)

	go func() {
		assert.NoError(t, c.StreamInOut([]byte{0xff}, make([]byte, 1), 8, true))
	}()

	msgType, bits, _, payload := readReq(t, srv, 8)
	assert.EqualValues(t, msgJTAGReq, msgType)
	assert.EqualValues(t, 8, bits)
	for i, b := range payload {
		assert.NotZero(t, b&(1<<bitTRST), "byte %d missing TRST bit", i)
	}
	assert.NotZero(t, payload[7]&(1<<bitTMS), "last byte missing TMS bit")

	_, err := srv.Write(make([]byte, 1))
	require.NoError(t, err)
}

func TestStreamInOutWithNilOutDoesNotWaitForReadback(t *testing.T) {
	c, srv := newPipeCable(t)
	done := make(chan error, 1)
	go func() {
		done <- c.StreamInOut([]byte{0x01}, nil, 1, false)
	}()
	_, _, _, _ = readReq(t, srv, 1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StreamInOut with a nil out buffer blocked waiting for a response that was never requested")
	}
}

func TestJTAGResetDoesNotDoubleAssertTRST(t *testing.T) {
	c, srv := newPipeCable(t)

	go func() {
		assert.NoError(t, c.JTAGReset(true))
	}()

	msgType, bits, _, payload := readReq(t, srv, 1)
	assert.EqualValues(t, msgJTAGReq, msgType)
	assert.EqualValues(t, 1, bits)
	assert.Zero(t, payload[0]&(1<<bitTRST), "jtag_reset's own TRST bit must not also be ORed in by proxyStream")
}

func TestChipResetUsesResetMessageType(t *testing.T) {
	c, srv := newPipeCable(t)

	go func() {
		assert.NoError(t, c.ChipReset(true))
	}()

	hdr := make([]byte, 5)
	_, err := readFull(srv, hdr)
	require.NoError(t, err)
	assert.EqualValues(t, msgResetReq, binary.LittleEndian.Uint32(hdr[0:4]))
	assert.EqualValues(t, 1, hdr[4])
}

func TestFlushNeverTouchesTheWire(t *testing.T) {
	c, srv := newPipeCable(t)
	require.NoError(t, c.Flush())

	srv.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := srv.Read(buf)
	assert.Error(t, err, "flush must not write anything to the wire")
}
