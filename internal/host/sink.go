package host

import (
	"context"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/tmux"
)

// LogSink only logs. Used for dry runs.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Execute(_ context.Context, command string) error {
	s.logger.Infof("dry_run command=%q", command)
	return nil
}

// TmuxSink pastes commands into the pane running the server console.
type TmuxSink struct {
	target string
	check  func(target string) error
	send   func(target, line string) error
}

func NewTmuxSink(target string) (*TmuxSink, error) {
	if err := tmux.ValidateTarget(target); err != nil {
		return nil, err
	}
	return &TmuxSink{target: target, check: tmux.CheckConsole, send: tmux.SendLine}, nil
}

// Execute pastes command exactly as the storefront sent it. tmux.SendLine
// refuses one containing a line break.
func (s *TmuxSink) Execute(_ context.Context, command string) error {
	if err := s.check(s.target); err != nil {
		return err
	}
	return s.send(s.target, command)
}

// RCONSink sends commands over RCON.
type RCONSink struct {
	conn   Execer
	logger *logging.Logger
}

func NewRCONSink(conn Execer, logger *logging.Logger) *RCONSink {
	return &RCONSink{conn: conn, logger: logger}
}

func (s *RCONSink) Execute(ctx context.Context, command string) error {
	reply, err := s.conn.Exec(ctx, command)
	if err != nil {
		return err
	}
	if reply != "" {
		s.logger.Debugf("rcon_reply command=%q reply=%q", command, reply)
	}
	return nil
}
