package bridge

// Callbacks is the struct-of-funcs the external CLI entry point injects
// into a Bridge at construction time: the start/stop/halt/resume table
// plus the qRcmd/qXfer host-command forwards, mirroring rsp.Callbacks
// field-for-field so it converts into one directly.
type Callbacks struct {
	IsStarted   func() bool
	StartTarget func() error
	StopTarget  func() error
	GdbTgtHlt   func()
	GdbTgtRes   func()

	QRcmd func(cmd string) (reply string, err error)
	QXfer func(object, annex string, offset, length int) (data []byte, eof bool, err error)

	// Capabilities is appended to qSupported's fixed feature set.
	Capabilities string
}
