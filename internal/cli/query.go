package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/storebridge/internal/config"
	"github.com/msageha/storebridge/internal/ledger"
	"github.com/msageha/storebridge/internal/status"
	"github.com/msageha/storebridge/internal/storeapi"
	"github.com/msageha/storebridge/internal/uds"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watermark, deferred commands and the last cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			return status.Run(dataDir, rootOpts.Format == "json", cmd.OutOrStdout())
		},
	}
}

// NewPeekCommand creates the peek command.
func NewPeekCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Show how the next cycle would treat the queue, without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			entries, err := daemonClient(dataDir).Peek()
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, entries, func(w io.Writer) {
				printPreview(w, entries)
			})
		},
	}
}

// NewReloadCommand creates the reload command.
func NewReloadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the running daemon re-read config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			if err := daemonClient(dataDir).Reload(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config reloaded")
			return nil
		},
	}
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	Limit   int
	Waiting bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dispatches from the ledger",
		Long: `List recent dispatches recorded in the ledger, newest first, with the
outcome of their acknowledgement. With --waiting, list commands still
waiting for their player and when they were first deferred.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), rootOpts, opts, dataDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&opts.Waiting, "waiting", false, "list deferred commands instead")
	return cmd
}

func runHistory(ctx context.Context, rootOpts *RootOptions, opts *HistoryOptions, dataDir string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return errors.New("ledger is disabled (ledger.enabled: false)")
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	if opts.Waiting {
		waiting, err := l.Waiting(ctx)
		if err != nil {
			return err
		}
		return writeOutput(w, rootOpts.Format, waiting, func(w io.Writer) {
			printWaiting(w, waiting)
		})
	}

	entries, err := l.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeOutput(w, rootOpts.Format, entries, func(w io.Writer) {
		printHistory(w, entries)
	})
}

// NewTransactionsCommand creates the transactions command.
func NewTransactionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "List recent storefront payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := rootOpts.resolveDataDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dataDir)
			if err != nil {
				return err
			}
			client, err := storeapi.New(storeapi.Options{
				BaseURL: cfg.Store.BaseURL,
				Token:   cfg.Store.Token,
				Timeout: time.Duration(cfg.Store.TimeoutSec) * time.Second,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			snap := client.FetchTransactions(ctx)
			if !snap.Success {
				return fmt.Errorf("fetch transactions failed: %s", snap.Message)
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, snap, func(w io.Writer) {
				printTransactions(w, snap.Data)
			})
		},
	}
}

func daemonClient(dataDir string) *uds.Client {
	return uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
}
