package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/msageha/storebridge/internal/config"
	"github.com/msageha/storebridge/internal/lock"
	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/uds"
)

// RuntimeBuilder assembles a Runtime from configuration.
type RuntimeBuilder func(cfg model.Config, dataDir string, logger *logging.Logger) (*Runtime, error)

// ConfigLoader reads the configuration for a data directory.
type ConfigLoader func(dataDir string) (model.Config, error)

// Daemon is the long-running storebridge process.
type Daemon struct {
	dataDir   string
	config    model.Config
	logger    *logging.Logger
	logFile   io.Closer
	startedAt time.Time

	fileLock *lock.FileLock
	server   *uds.Server
	metrics  *MetricsHandler

	buildRuntime RuntimeBuilder
	loadConfig   ConfigLoader

	// rtMu is held for reading across a cycle and for writing while reload swaps the runtime.
	rtMu    sync.RWMutex
	runtime *Runtime

	lastCycle atomic.Pointer[model.CycleSummary]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}
}

// New creates a Daemon that logs to <dataDir>/logs/daemon.log.
func New(dataDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dataDir, cfg, logFile, logFile), nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(dataDir string, cfg model.Config, w io.Writer, closer io.Closer) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level), "daemon")

	return &Daemon{
		dataDir:      dataDir,
		config:       cfg,
		logger:       logger,
		logFile:      closer,
		fileLock:     lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock")),
		server:       uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName), logger.With("uds")),
		metrics:      NewMetricsHandler(dataDir, logger.With("metrics")),
		buildRuntime: BuildRuntime,
		loadConfig:   config.Load,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// SetRuntimeBuilder replaces how the runtime is assembled. Must be called before Run().
func (d *Daemon) SetRuntimeBuilder(b RuntimeBuilder) {
	d.buildRuntime = b
}

// SetConfigLoader replaces how reload reads configuration. Must be called before Run().
func (d *Daemon) SetConfigLoader(l ConfigLoader) {
	d.loadConfig = l
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	<-d.done
	return nil
}

// Start acquires the lock, builds the runtime and starts the socket and ticker.
func (d *Daemon) Start() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.startedAt = time.Now()
	d.logger.Infof("daemon starting pid=%d data_dir=%s", os.Getpid(), d.dataDir)

	rt, err := d.buildRuntime(d.config, d.dataDir, d.logger)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("build runtime: %w", err)
	}
	if err := rt.Start(d.ctx); err != nil {
		rt.Close()
		d.cleanup()
		return fmt.Errorf("start runtime: %w", err)
	}
	d.runtime = rt

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		rt.Close()
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", filepath.Join(d.dataDir, uds.DefaultSocketName))

	d.wg.Add(1)
	go d.tickerLoop()

	d.logger.Infof("daemon ready interval=%ds initial_delay=%ds sink=%s presence=%s",
		d.config.Watcher.IntervalSec, d.initialDelaySec(), d.config.Host.Sink, d.config.Host.Presence)
	return nil
}

func (d *Daemon) initialDelaySec() int {
	if d.config.Watcher.InitialDelaySec == nil {
		return config.DefaultInitialDelaySec
	}
	return *d.config.Watcher.InitialDelaySec
}

// interval follows the live runtime so a reload can change it.
func (d *Daemon) interval() time.Duration {
	d.rtMu.RLock()
	sec := d.runtime.config.Watcher.IntervalSec
	d.rtMu.RUnlock()
	if sec <= 0 {
		sec = config.DefaultIntervalSec
	}
	return time.Duration(sec) * time.Second
}

// registerHandlers binds the control commands to the daemon.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(context.Context, json.RawMessage) (any, error) {
		return uds.Ack{Status: "ok"}, nil
	})

	d.server.Handle(uds.CmdStatus, func(context.Context, json.RawMessage) (any, error) {
		return d.Status(), nil
	})

	d.server.Handle(uds.CmdScan, func(context.Context, json.RawMessage) (any, error) {
		return d.RunCycle(), nil
	})

	d.server.Handle(uds.CmdPeek, func(ctx context.Context, _ json.RawMessage) (any, error) {
		d.rtMu.RLock()
		defer d.rtMu.RUnlock()
		entries, err := d.runtime.Watcher.Preview(ctx)
		if err != nil {
			return nil, uds.Errorf(uds.CodeUpstream, "%v", err)
		}
		return entries, nil
	})

	d.server.Handle(uds.CmdReload, func(context.Context, json.RawMessage) (any, error) {
		if err := d.Reload(); err != nil {
			return nil, uds.Errorf(uds.CodeValidation, "%v", err)
		}
		return uds.Ack{Status: "reloaded"}, nil
	})

	d.server.Handle(uds.CmdShutdown, func(context.Context, json.RawMessage) (any, error) {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return uds.Ack{Status: "shutdown_accepted"}, nil
	})
}

// tickerLoop waits the initial delay, then runs a cycle every interval.
// The next wait starts when a cycle ends, so slow cycles never pile up.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	timer := time.NewTimer(time.Duration(d.initialDelaySec()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			d.logger.Debugf("periodic cycle triggered")
			d.RunCycle()
			timer.Reset(d.interval())
		}
	}
}

// RunCycle runs one reconciler cycle and records its metrics.
func (d *Daemon) RunCycle() model.CycleSummary {
	d.rtMu.RLock()
	defer d.rtMu.RUnlock()

	report := d.runtime.Watcher.RunCycle(d.ctx)
	status := d.runtime.Watcher.Status()

	if err := d.metrics.UpdateMetrics(report, status); err != nil {
		d.logger.Warnf("metrics update failed: %v", err)
	}
	if err := d.metrics.UpdateDashboard(report, status); err != nil {
		d.logger.Warnf("dashboard update failed: %v", err)
	}

	summary := report.Summary()
	d.lastCycle.Store(&summary)
	d.logger.Infof("cycle_done cycle=%s fetch_ok=%t fetched=%d dispatched=%d deferred=%d ack=%s duration_ms=%d",
		summary.CycleID, summary.FetchOK, summary.Fetched, len(summary.Dispatched), len(summary.Deferred), summary.Ack, summary.DurationMS)
	return summary
}

// Status reports the live reconciler state.
func (d *Daemon) Status() model.DaemonStatus {
	d.rtMu.RLock()
	defer d.rtMu.RUnlock()

	ws := d.runtime.Watcher.Status()
	started := d.startedAt
	st := model.DaemonStatus{
		Running:     true,
		PID:         os.Getpid(),
		StartedAt:   &started,
		Sink:        d.runtime.config.Host.Sink,
		Presence:    d.runtime.config.Host.Presence,
		IntervalSec: d.runtime.config.Watcher.IntervalSec,
		Watermark:   ws.Watermark,
		Deferred:    ws.Deferred,
		Online:      d.runtime.Roster.Names(),
		LastCycle:   d.lastCycle.Load(),
	}
	if st.Deferred == nil {
		st.Deferred = []model.Command{}
	}
	return st
}

// Reload re-reads config.yaml and swaps in a new runtime. The current state is
// saved first so the new Watcher resumes from it. On error the old runtime stays.
// The log level is fixed at startup.
func (d *Daemon) Reload() error {
	cfg, err := d.loadConfig(d.dataDir)
	if err != nil {
		d.logger.Errorf("reload rejected: %v", err)
		return err
	}

	d.rtMu.Lock()
	defer d.rtMu.Unlock()

	if err := d.runtime.Watcher.Save(); err != nil {
		return fmt.Errorf("save state before reload: %w", err)
	}
	rt, err := d.buildRuntime(cfg, d.dataDir, d.logger)
	if err != nil {
		d.logger.Errorf("reload failed, keeping previous runtime: %v", err)
		return err
	}
	// The previous runtime keeps serving until its replacement is running.
	if err := rt.Start(d.ctx); err != nil {
		rt.Close()
		d.logger.Errorf("reload failed, keeping previous runtime: %v", err)
		return fmt.Errorf("start reloaded runtime: %w", err)
	}
	if err := d.runtime.Close(); err != nil {
		d.logger.Warnf("close previous runtime: %v", err)
	}
	d.runtime = rt
	d.logger.Infof("config reloaded sink=%s presence=%s", cfg.Host.Sink, cfg.Host.Presence)
	return nil
}

// waitSignals blocks until a shutdown signal or a shutdown request arrives.
// SIGHUP reloads the configuration.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-d.ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				d.logger.Infof("received SIGHUP, reloading config")
				if err := d.Reload(); err != nil {
					d.logger.Errorf("reload: %v", err)
				}
				continue
			}
			d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)

			// Second signal forces exit.
			go func() {
				<-sigCh
				d.logger.Warnf("received second signal, forcing exit")
				os.Exit(1)
			}()

			d.Shutdown()
			return
		}
	}
}

// Shutdown stops the ticker, drains the in-flight cycle and saves state (idempotent).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.done)
		d.logger.Infof("shutdown started")

		d.server.Drain()
		d.cancel()
		d.server.Stop()

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeoutSec
		}

		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			d.logger.Infof("ticker drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.logger.Warnf("shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// A cycle still in flight persists its own state when it ends.
		if d.rtMu.TryLock() {
			if d.runtime != nil {
				if err := d.runtime.Watcher.Save(); err != nil {
					d.logger.Errorf("final state save failed: %v", err)
				}
				if err := d.runtime.Close(); err != nil {
					d.logger.Warnf("close runtime: %v", err)
				}
			}
			d.rtMu.Unlock()
		} else {
			d.logger.Warnf("cycle still running, skipping final save")
		}

		d.cleanup()
		d.logger.Infof("daemon stopped")
	})
}

// cleanup releases the socket, the lock and the log file.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.dataDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
