package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/msageha/storebridge/internal/host"
	"github.com/msageha/storebridge/internal/ledger"
	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/rcon"
	"github.com/msageha/storebridge/internal/state"
	"github.com/msageha/storebridge/internal/storeapi"
)

// Runtime is a Watcher plus the collaborators it owns.
type Runtime struct {
	Watcher *Watcher
	Roster  *host.Roster

	config  model.Config
	start   []func(ctx context.Context) error
	closers []io.Closer
}

// BuildRuntime assembles the queue client, host sink, presence source and
// optional ledger described by cfg around a Watcher loaded from dataDir.
func BuildRuntime(cfg model.Config, dataDir string, logger *logging.Logger) (*Runtime, error) {
	rt := &Runtime{Roster: host.NewRoster(), config: cfg}
	built := false
	defer func() {
		if !built {
			rt.Close()
		}
	}()

	client, err := storeapi.New(storeapi.Options{
		BaseURL: cfg.Store.BaseURL,
		Token:   cfg.Store.Token,
		Timeout: time.Duration(cfg.Store.TimeoutSec) * time.Second,
		Logger:  logger.With("storeapi"),
	})
	if err != nil {
		return nil, err
	}

	var conn *rcon.Client
	if cfg.Host.Sink == "rcon" || cfg.Host.Presence == "rcon" {
		conn = rcon.NewClient(cfg.Host.RCON.Address, cfg.Host.RCON.Password,
			time.Duration(cfg.Host.RCON.TimeoutSec)*time.Second)
		rt.closers = append(rt.closers, conn)
	}

	var sink ExecutionSink
	switch cfg.Host.Sink {
	case "tmux":
		if sink, err = host.NewTmuxSink(cfg.Host.Tmux.Target); err != nil {
			return nil, err
		}
	case "rcon":
		sink = host.NewRCONSink(conn, logger.With("rcon"))
	case "log", "":
		sink = host.NewLogSink(logger.With("sink"))
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Host.Sink)
	}

	var beforeCycle func(context.Context) error
	switch cfg.Host.Presence {
	case "rcon":
		beforeCycle = host.NewRCONRoster(conn, rt.Roster).Refresh
	case "file", "":
		rw := host.NewRosterWatcher(cfg.Host.RosterPath, rt.Roster, logger.With("roster"))
		rt.start = append(rt.start, rw.Start)
		rt.closers = append(rt.closers, rw)
	default:
		return nil, fmt.Errorf("unknown presence source %q", cfg.Host.Presence)
	}

	var recorder Recorder
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, l)
		recorder = l
	}

	w, err := NewWatcher(WatcherDeps{
		Queue:       client,
		Presence:    rt.Roster,
		Sink:        sink,
		Store:       state.NewStore(dataDir),
		Recorder:    recorder,
		Logger:      logger.With("watcher"),
		BeforeCycle: beforeCycle,
	})
	if err != nil {
		return nil, err
	}
	rt.Watcher = w
	built = true
	return rt, nil
}

// Start launches background collaborators such as the roster file watcher.
func (rt *Runtime) Start(ctx context.Context) error {
	for _, fn := range rt.start {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases collaborators in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
