package rsp

// Callbacks is the struct-of-funcs the bridge composition root injects
// into a Server, mirroring the netio Listener/Socket callback idiom.
// Every field defaults to a no-op when left nil. The five lifecycle
// callbacks are reached through the call* wrappers below; QRcmd and QXfer
// are nil-checked in dispatch.go, which then replies "OK" or "l".
type Callbacks struct {
	IsStarted   func() bool
	StartTarget func() error
	StopTarget  func() error
	GdbTgtHlt   func()
	GdbTgtRes   func()

	// QRcmd answers a qRcmd monitor command; the hex decode/encode
	// happens in dispatch.go, the callback sees plain ASCII.
	QRcmd func(cmd string) (reply string, err error)

	// QXfer answers a qXfer object read, returning the raw payload for
	// the requested [offset, offset+length) window.
	QXfer func(object, annex string, offset, length int) (data []byte, eof bool, err error)

	// Capabilities is appended, verbatim, after qSupported's fixed
	// feature set -- e.g. "xmlRegisters=riscv" for a target description.
	Capabilities string
}

func (cb Callbacks) callIsStarted() bool {
	if cb.IsStarted == nil {
		return true
	}
	return cb.IsStarted()
}

func (cb Callbacks) callStartTarget() error {
	if cb.StartTarget == nil {
		return nil
	}
	return cb.StartTarget()
}

func (cb Callbacks) callStopTarget() error {
	if cb.StopTarget == nil {
		return nil
	}
	return cb.StopTarget()
}

func (cb Callbacks) callGdbTgtHlt() {
	if cb.GdbTgtHlt != nil {
		cb.GdbTgtHlt()
	}
}

func (cb Callbacks) callGdbTgtRes() {
	if cb.GdbTgtRes != nil {
		cb.GdbTgtRes()
	}
}
