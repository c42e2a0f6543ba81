// Package rcon is a Source RCON client, the console protocol spoken by most game servers.
package rcon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	typeResponse int32 = 0
	typeExec     int32 = 2
	typeAuth     int32 = 3

	// Smallest packet: id + type + two NUL terminators.
	minPacketSize = 10
	maxPacketSize = 4096 + minPacketSize
)

var ErrAuthFailed = errors.New("rcon authentication failed")

type Packet struct {
	ID   int32
	Type int32
	Body string
}

// WritePacket encodes p as [len][id][type][body]\x00\x00, little endian.
func WritePacket(w io.Writer, p Packet) error {
	size := int32(len(p.Body) + minPacketSize)
	if size > maxPacketSize {
		return fmt.Errorf("rcon packet body too large: %d bytes", len(p.Body))
	}
	var buf bytes.Buffer
	buf.Grow(int(size) + 4)
	binary.Write(&buf, binary.LittleEndian, size)
	binary.Write(&buf, binary.LittleEndian, p.ID)
	binary.Write(&buf, binary.LittleEndian, p.Type)
	buf.WriteString(p.Body)
	buf.Write([]byte{0, 0})
	_, err := w.Write(buf.Bytes())
	return err
}

func ReadPacket(r io.Reader) (Packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return Packet{}, err
	}
	if size < minPacketSize || size > maxPacketSize {
		return Packet{}, fmt.Errorf("rcon packet size %d out of range", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, fmt.Errorf("read rcon packet: %w", err)
	}
	p := Packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: int32(binary.LittleEndian.Uint32(payload[4:8])),
		Body: string(bytes.TrimRight(payload[8:], "\x00")),
	}
	return p, nil
}

// Client holds one authenticated connection and redials after any I/O error.
// It is safe for concurrent use; commands are serialized.
type Client struct {
	address  string
	password string
	timeout  time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int32
}

func NewClient(address, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{address: address, password: password, timeout: timeout}
}

// Exec runs command on the server console and returns its reply.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return "", err
		}
	}
	reply, err := c.roundTrip(ctx, typeExec, command)
	if err != nil {
		c.closeLocked()
		return "", err
	}
	return reply.Body, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial rcon %s: %w", c.address, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	reply, err := c.roundTrip(ctx, typeAuth, c.password)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("rcon auth: %w", err)
	}
	if reply.ID == -1 {
		c.closeLocked()
		return ErrAuthFailed
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, typ int32, body string) (Packet, error) {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	id := c.nextID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Packet{}, err
	}
	if err := WritePacket(c.conn, Packet{ID: id, Type: typ, Body: body}); err != nil {
		return Packet{}, fmt.Errorf("write rcon packet: %w", err)
	}

	for {
		p, err := ReadPacket(c.reader)
		if err != nil {
			return Packet{}, err
		}
		// Servers answer auth with an empty RESPONSE_VALUE before the AUTH_RESPONSE.
		if typ == typeAuth && p.Type == typeResponse {
			continue
		}
		if p.ID == id || p.ID == -1 {
			return p, nil
		}
	}
}
