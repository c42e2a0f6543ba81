package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msageha/storebridge/internal/config"
	"github.com/msageha/storebridge/internal/daemon"
	"github.com/msageha/storebridge/internal/lock"
	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconciler until stopped",
		Long: `Run the reconciler in the foreground. A cycle runs after the initial
delay and then every interval. SIGHUP reloads config.yaml; SIGINT or SIGTERM
saves state and exits. Logs go to <data-dir>/logs/daemon.log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dataDir)
			if err != nil {
				return err
			}
			d, err := daemon.New(dataDir, cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "storebridge daemon started (data dir %s)\n", dataDir)
			return d.Run()
		},
	}
}

// NewRunOnceCommand creates the run-once command.
func NewRunOnceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single reconciler cycle and exit",
		Long: `Run exactly one cycle: fetch the queue, dispatch what is eligible,
acknowledge it and save state. When a daemon is running the cycle is run
by the daemon instead. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			summary, err := runOnce(cmd.Context(), dataDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, summary, func(w io.Writer) {
				printCycle(w, summary)
			})
		},
	}
}

func runOnce(ctx context.Context, dataDir string, logOut io.Writer) (model.CycleSummary, error) {
	var summary model.CycleSummary
	if ctx == nil {
		ctx = context.Background()
	}

	if err := os.MkdirAll(filepath.Join(dataDir, "locks"), 0755); err != nil {
		return summary, fmt.Errorf("ensure lock dir: %w", err)
	}
	fl := lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock"))
	if err := fl.TryLock(); err != nil {
		if !errors.Is(err, lock.ErrLocked) {
			return summary, err
		}
		// The daemon owns the state; ask it to run the cycle.
		forwarded, err := daemonClient(dataDir).Scan()
		if err != nil {
			return forwarded, fmt.Errorf("daemon holds the lock: %w", err)
		}
		return forwarded, nil
	}
	defer fl.Unlock()

	cfg, err := config.Load(dataDir)
	if err != nil {
		return summary, err
	}
	logger := logging.New(logOut, logging.ParseLevel(cfg.Logging.Level), "run-once")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := daemon.BuildRuntime(cfg, dataDir, logger)
	if err != nil {
		return summary, fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()
	if err := rt.Start(ctx); err != nil {
		return summary, fmt.Errorf("start runtime: %w", err)
	}

	report := rt.Watcher.RunCycle(ctx)
	metrics := daemon.NewMetricsHandler(dataDir, logger.With("metrics"))
	if err := metrics.UpdateMetrics(report, rt.Watcher.Status()); err != nil {
		logger.Warnf("metrics update failed: %v", err)
	}
	if err := metrics.UpdateDashboard(report, rt.Watcher.Status()); err != nil {
		logger.Warnf("dashboard update failed: %v", err)
	}

	summary = report.Summary()
	if report.SaveErr != nil {
		return summary, fmt.Errorf("save state: %w", report.SaveErr)
	}
	return summary, nil
}
