// Package uds is the control channel between the storebridge CLI and a
// running daemon: one request and one response per connection, each sent as
// a length-prefixed JSON frame over a Unix socket in the data directory.
package uds

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside the data directory.
const DefaultSocketName = "daemon.sock"

// maxFrameSize bounds a single frame. A status with a long deferred list is the largest payload.
const maxFrameSize = 1 << 20

// Command names one daemon operation.
type Command string

const (
	CmdPing     Command = "ping"
	CmdStatus   Command = "status"
	CmdScan     Command = "scan"
	CmdPeek     Command = "peek"
	CmdReload   Command = "reload"
	CmdShutdown Command = "shutdown"
)

// servedWhileDraining reports whether cmd is still answered once shutdown has begun.
// Anything that runs a cycle, calls the storefront or swaps the runtime is refused.
func (c Command) servedWhileDraining() bool {
	switch c {
	case CmdPing, CmdStatus, CmdShutdown:
		return true
	}
	return false
}

// Code classifies a failed request.
type Code string

const (
	CodeProtocolMismatch Code = "PROTOCOL_MISMATCH"
	CodeUnknownCommand   Code = "UNKNOWN_COMMAND"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUpstream         Code = "UPSTREAM_ERROR"
	CodeShuttingDown     Code = "SHUTTING_DOWN"
)

// Error is a failure reported by the daemon.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Errorf builds an Error that a handler can return to choose the response code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         Command         `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Ack is the payload of commands that only confirm they were accepted.
type Ack struct {
	Status string `json:"status"`
}

func newRequest(cmd Command, params any) (*Request, error) {
	req := &Request{ProtocolVersion: ProtocolVersion, Command: cmd}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", cmd, err)
		}
		req.Params = raw
	}
	return req, nil
}

func okResponse(data any) *Response {
	if data == nil {
		return &Response{OK: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return failResponse(Errorf(CodeInternal, "marshal response: %v", err))
	}
	return &Response{OK: true, Data: raw}
}

func failResponse(err *Error) *Response {
	return &Response{Error: err}
}

// decode unmarshals Data into v, or returns the daemon's error.
func (r *Response) decode(v any) error {
	if !r.OK {
		if r.Error != nil {
			return r.Error
		}
		return Errorf(CodeInternal, "daemon returned failure without detail")
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// writeFrame sends v as [4-byte big-endian length][JSON payload] in a single write.
func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
