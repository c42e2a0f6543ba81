package uds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msageha/storebridge/internal/logging"
)

// HandlerFunc serves one command. Returning an *Error selects the response
// code; any other error is reported as INTERNAL_ERROR.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server answers control commands on a Unix socket.
type Server struct {
	socketPath  string
	connTimeout time.Duration
	logger      *logging.Logger

	mu       sync.RWMutex
	handlers map[Command]HandlerFunc
	draining atomic.Bool

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewServer(socketPath string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		connTimeout: 30 * time.Second,
		logger:      logger,
		handlers:    make(map[Command]HandlerFunc),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

func (s *Server) Handle(cmd Command, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = h
}

// Start listens on the socket, owner-only, and serves until Stop.
func (s *Server) Start() error {
	// Stale socket from a crashed daemon; the file lock already proved we are alone.
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Drain refuses every command except ping, status and shutdown from now on.
func (s *Server) Drain() {
	if !s.draining.Swap(true) {
		s.logger.Infof("draining: only ping, status and shutdown are served")
	}
}

// Stop closes the listener, waits for open connections and removes the socket.
func (s *Server) Stop() {
	s.Drain()
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warnf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := readFrame(conn, &req); err != nil {
		s.logger.Debugf("read request: %v", err)
		return
	}
	if err := writeFrame(conn, s.dispatch(&req)); err != nil {
		s.logger.Warnf("write %s response: %v", req.Command, err)
	}
}

func (s *Server) dispatch(req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return failResponse(Errorf(CodeProtocolMismatch,
			"protocol version %d, daemon speaks %d", req.ProtocolVersion, ProtocolVersion))
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return failResponse(Errorf(CodeUnknownCommand, "unknown command %q", req.Command))
	}
	if s.draining.Load() && !req.Command.servedWhileDraining() {
		return failResponse(Errorf(CodeShuttingDown, "daemon is shutting down, %s refused", req.Command))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("panic in %s handler: %v\n%s", req.Command, r, debug.Stack())
			resp = failResponse(Errorf(CodeInternal, "%s handler panicked", req.Command))
		}
	}()

	s.logger.Debugf("request command=%s", req.Command)
	data, err := h(s.ctx, req.Params)
	if err != nil {
		var uerr *Error
		if !errors.As(err, &uerr) {
			uerr = Errorf(CodeInternal, "%v", err)
		}
		s.logger.Warnf("command=%s failed code=%s: %s", req.Command, uerr.Code, uerr.Message)
		return failResponse(uerr)
	}
	return okResponse(data)
}
