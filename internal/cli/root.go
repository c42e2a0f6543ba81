// Package cli implements the storebridge command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/storebridge/internal/setup"
)

// Version is the storebridge release.
const Version = "1.0.0"

// EnvDataDir overrides data directory discovery.
const EnvDataDir = "STOREBRIDGE_DIR"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir string
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the storebridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storebridge",
		Short: "Deliver storefront purchases to a game server",
		Long: `storebridge polls the storefront command queue, runs each purchased
command on the game server once, and acknowledges it. Commands for players
who are offline wait until they join.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory (default: $"+EnvDataDir+" or nearest "+setup.DefaultDirName+")")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewRunOnceCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewPeekCommand(opts))
	cmd.AddCommand(NewReloadCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTransactionsCommand(opts))
	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// errNoDataDir is returned when no data directory can be located.
var errNoDataDir = errors.New(setup.DefaultDirName + "/ directory not found. Run 'storebridge setup <dir>' first")

// resolveDataDir picks the data directory: the flag, then the environment,
// then the nearest .storebridge in the working directory or its ancestors.
func (o *RootOptions) resolveDataDir() (string, error) {
	if o.DataDir != "" {
		return filepath.Abs(o.DataDir)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if dir := findDataDir(wd); dir != "" {
		return dir, nil
	}
	return "", errNoDataDir
}

// findDataDir searches for .storebridge/ in start and its ancestors.
func findDataDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, setup.DefaultDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storebridge %s\n", Version)
		},
	}
}
