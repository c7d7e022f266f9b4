// Package reqserver implements the raw memory request server: a small
// TCP front-end that lets external tools issue bulk bus read/write
// transactions, sharing the same netio reactor and target.Target the
// RSP engine's m/M/X handlers use.
package reqserver

import "encoding/binary"

// Request/response types carried in a frame's type field. A write
// response reuses the request's own type as its ack; a read response
// always carries reqRead; reqAlert only ever appears in a response,
// interleaved ahead of whatever transaction was in flight, and it also
// replaces the ack or read reply of a transaction whose bus access failed.
const (
	reqRead  = 0
	reqWrite = 1
	reqAlert = 2
)

// headerSize is the fixed {trans_id, type, addr, len} request header.
const headerSize = 16

type header struct {
	TransID uint32
	Type    uint32
	Addr    uint32
	Len     int32
}

func decodeHeader(buf []byte) header {
	return header{
		TransID: binary.LittleEndian.Uint32(buf[0:4]),
		Type:    binary.LittleEndian.Uint32(buf[4:8]),
		Addr:    binary.LittleEndian.Uint32(buf[8:12]),
		Len:     int32(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

// encodeAck builds the {trans_id, type} short response a write (or an
// out-of-band alert) replies with.
func encodeAck(transID, respType uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], transID)
	binary.LittleEndian.PutUint32(buf[4:8], respType)
	return buf
}

// encodeReadReply builds the {trans_id, type, len} + data response a
// read replies with.
func encodeReadReply(transID uint32, data []byte) []byte {
	buf := make([]byte, 12+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], transID)
	binary.LittleEndian.PutUint32(buf[4:8], reqRead)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(data)))
	copy(buf[12:], data)
	return buf
}

// clampLen caps a request's length to the cable's maximum single-burst
// size.
func clampLen(n int32, maxBurst int) int {
	if n < 0 {
		return 0
	}
	if int(n) > maxBurst {
		return maxBurst
	}
	return int(n)
}
