package ipc

import (
	"fmt"
	"net"
	"time"
)

// Client is a single connection to a daemon's control socket, used by
// internal/cli. Not safe for concurrent Call from multiple goroutines —
// callers needing that should open one Client per goroutine.
type Client struct {
	conn net.Conn
}

// DialUnix connects to the daemon's control socket at path.
func DialUnix(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// DialTCP connects to a TCP-enabled daemon and authenticates with token.
func DialTCP(addr, token string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn}
	resp, err := c.call(Request{}, &tokenRequest{Token: token})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !resp.Ok {
		conn.Close()
		return nil, fmt.Errorf("ipc: authenticate: %s", resp.Error.Message)
	}
	return c, nil
}

// Call sends req and waits for the matching Response. If req.RequestID is
// empty, Call assigns a fresh one so the daemon's debug log can be
// correlated back to this call; the Response does not carry it.
func (c *Client) Call(req Request) (Response, error) {
	if req.RequestID == "" {
		req.RequestID = newRequestID()
	}
	return c.call(req, nil)
}

// call is shared by Call and the TCP handshake's bare token frame.
func (c *Client) call(req Request, override interface{}) (Response, error) {
	var frame interface{} = req
	if override != nil {
		frame = override
	}
	if err := WriteFrame(c.conn, frame); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := ReadFrame(c.conn, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}

// SetDeadline applies a round-trip deadline to the underlying connection
// — the caller's IPC-timeout bound (internal/config.Config.IPCTimeout).
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
