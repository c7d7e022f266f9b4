package rsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("plain ascii"),
		{'#', '%', '}', '*'},
		{0x00, '#', 0x7f, '}', '*', 'x'},
	}
	for _, body := range cases {
		escaped := Escape(body)
		assert.Equal(t, body, Unescape(escaped))
	}
}

func TestFormatPacketChecksum(t *testing.T) {
	frame := FormatPacket([]byte("OK"))
	assert.Equal(t, "$OK#9a", string(frame))
}

func TestDecoderBreakByte(t *testing.T) {
	d := NewDecoder()
	res := d.Feed(breakByte)
	assert.True(t, res.GotBreak)
}

func TestDecoderFullPacketRoundTrip(t *testing.T) {
	d := NewDecoder()
	frame := FormatPacket([]byte("m1000,4"))
	var got []byte
	for _, b := range frame {
		res := d.Feed(b)
		if res.GotPacket != nil {
			got = res.GotPacket
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "m1000,4", string(got))
}

func TestDecoderBadChecksumResets(t *testing.T) {
	d := NewDecoder()
	frame := FormatPacket([]byte("g"))
	frame[len(frame)-1] ^= 1 // corrupt the low checksum nibble
	var badSeen bool
	for _, b := range frame {
		res := d.Feed(b)
		if res.ChecksumBad {
			badSeen = true
		}
	}
	assert.True(t, badSeen)

	// the decoder must have returned to INIT and accept the next packet.
	frame2 := FormatPacket([]byte("g"))
	var got []byte
	for _, b := range frame2 {
		res := d.Feed(b)
		if res.GotPacket != nil {
			got = res.GotPacket
		}
	}
	assert.Equal(t, "g", string(got))
}

func TestEscapedPacketDecodesToOriginalBody(t *testing.T) {
	d := NewDecoder()
	body := []byte("X1000,2:#}")
	frame := FormatPacket(body)
	var got []byte
	for _, b := range frame {
		res := d.Feed(b)
		if res.GotPacket != nil {
			got = res.GotPacket
		}
	}
	assert.Equal(t, body, got)
}
