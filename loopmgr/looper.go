// Package loopmgr implements the cooperative poll loop that drives the
// semihosting request loop and the printf ioloop against the target's
// shared debug structure, without blocking the RSP client thread.
package loopmgr

// Result is what a looper's tick returns, telling the Manager whether
// to keep calling it, back off, or tear everything down.
type Result int

const (
	Continue Result = iota
	Pause
	Stop
	StopAll
)

// Looper is one cooperative polling task. RegisterProc runs once, the
// first time the Manager ticks after the looper is added; if it returns
// Continue, LoopProc runs on that same tick and on every later tick the
// looper is not paused for.
type Looper interface {
	Name() string
	RegisterProc(ds *DebugStruct) Result
	LoopProc(ds *DebugStruct) Result
}

// State is the explicit "coroutine" state behind the ioloop/reqloop
// fast-path restart: Paused is cleared by the looper itself, typically
// from a one-shot fast timer.
type State int

const (
	Running State = iota
	Paused
)
