package netio

import (
	"net"
	"time"

	"github.com/cesanta/errors"
)

// Client is the outbound-connection mirror of Listener: Connect dials with
// a timeout and, on success, produces a reactor Socket; on failure it
// invokes OnError.
type Client struct {
	loop    *Loop
	OnError func(error)
}

func NewClient(loop *Loop) *Client {
	return &Client{loop: loop}
}

func (c *Client) Connect(addr string, timeout time.Duration) (*Socket, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		werr := errors.Annotatef(err, "connect to %s", addr)
		if c.OnError != nil {
			c.loop.Post(func() { c.OnError(werr) })
		}
		return nil, werr
	}
	return NewSocket(c.loop, conn, 0, 0), nil
}

// DialRaw connects and returns a Socket with the reactor's read/write
// pumps not started, for collaborators that drive the connection
// synchronously on their own thread (the JTAG proxy cable).
func (c *Client) DialRaw(addr string, timeout time.Duration) (*Socket, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "connect to %s", addr)
	}
	return NewSyncSocket(conn), nil
}
