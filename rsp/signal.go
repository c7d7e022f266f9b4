package rsp

import "github.com/riscv-debug/bridge/target"

// Unix-style target signal numbers RSP stop replies use.
const (
	SignalNone = 0
	SignalINT  = 2
	SignalILL  = 4
	SignalTRAP = 5
	SignalSTOP = 17
)

// signalForCause maps a target.Cause value to the RSP signal number a
// stop reply carries: the interrupt bit wins over everything else, then
// BREAKPOINT, then ILLEGAL_INSN, then the generic STOP.
func signalForCause(cause uint32) int {
	if cause&target.CauseInterruptBit != 0 {
		return SignalINT
	}
	switch cause &^ target.CauseInterruptBit {
	case target.CauseBreakpoint:
		return SignalTRAP
	case target.CauseIllegalInsn:
		return SignalILL
	default:
		return SignalSTOP
	}
}

// coreSignal derives the stop signal for a single core the way the wait
// loop's per-core check does: a single-step hit always reports TRAP, a
// sleeping or still-running core reports NONE, otherwise the cause maps
// through signalForCause.
func coreSignal(c *target.Core) (int, error) {
	isHit, isSleeping, err := c.ReadHit()
	if err != nil {
		return SignalNone, err
	}
	if isHit {
		return SignalTRAP, nil
	}
	stopped, err := c.IsStopped()
	if err != nil {
		return SignalNone, err
	}
	if isSleeping || !stopped {
		return SignalNone, nil
	}
	cause, err := c.GetCause()
	if err != nil {
		return SignalNone, err
	}
	return signalForCause(cause), nil
}
