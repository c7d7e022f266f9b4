// Package jtag implements the chain auto-discovery and Advanced Debug
// Unit (ADU) bus adapter that sit between an opaque bit-shifting Cable and
// every higher layer of the bridge. Higher layers talk only to Adapter;
// they never see a Cable directly.
package jtag

// Cable is the opaque transport every Adapter drives. Exactly one
// implementation ships in this repo, proxycable.Cable (package
// jtag/proxycable), which frames requests over TCP per the bridge's JTAG
// proxy transport; jtag/simcable provides a second, in-memory
// implementation used only by tests.
type Cable interface {
	// BitInOut shifts one bit of tdi into the chain (TDI), asserting tms on
	// TCK's rising edge, and returns the bit shifted out (TDO).
	BitInOut(tdi bool, tms bool) (tdo bool, err error)

	// StreamInOut shifts nBits bits from in (LSB of in[0] first) while
	// capturing the shifted-out bits into out (same bit order). tms is
	// held low for every bit except, if lastTMS is true, the final one.
	// in may be nil for a pure read (output driven low).
	StreamInOut(in []byte, out []byte, nBits int, lastTMS bool) error

	// WriteTMS shifts a single TMS bit without moving TDI/TDO.
	WriteTMS(bit bool) error

	// JTAGReset pulses (active=true) or releases (active=false) TRST.
	JTAGReset(active bool) error

	// ChipReset pulses or releases the target's system reset line.
	ChipReset(active bool) error

	// Flush forces any buffered bits out to the wire immediately.
	Flush() error
}
