package uds

import (
	"fmt"
	"net"
	"time"

	"github.com/msageha/storebridge/internal/model"
)

// Client sends control commands to the daemon listening on socketPath.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// ConnectError means no daemon answered on the socket.
type ConnectError struct {
	SocketPath string
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("no storebridge daemon at %s: %v (start one with: storebridge daemon)", e.SocketPath, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Call sends cmd and decodes a successful response into out. A daemon-side
// failure comes back as *Error.
func (c *Client) Call(cmd Command, params, out any) error {
	req, err := newRequest(cmd, params)
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return &ConnectError{SocketPath: c.socketPath, Err: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := writeFrame(conn, req); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	var resp Response
	if err := readFrame(conn, &resp); err != nil {
		return fmt.Errorf("read %s response: %w", cmd, err)
	}
	return resp.decode(out)
}

func (c *Client) Ping() error {
	return c.Call(CmdPing, nil, nil)
}

func (c *Client) Status() (model.DaemonStatus, error) {
	var st model.DaemonStatus
	err := c.Call(CmdStatus, nil, &st)
	return st, err
}

// Scan asks the daemon to run one cycle now.
func (c *Client) Scan() (model.CycleSummary, error) {
	var s model.CycleSummary
	err := c.Call(CmdScan, nil, &s)
	return s, err
}

func (c *Client) Peek() ([]model.PreviewEntry, error) {
	var entries []model.PreviewEntry
	err := c.Call(CmdPeek, nil, &entries)
	return entries, err
}

func (c *Client) Reload() error {
	return c.Call(CmdReload, nil, nil)
}

func (c *Client) Shutdown() error {
	return c.Call(CmdShutdown, nil, nil)
}
