package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/storebridge/internal/setup"
)

// NewSetupCommand creates the setup command.
func NewSetupCommand(_ *RootOptions) *cobra.Command {
	opts := setup.Options{}

	cmd := &cobra.Command{
		Use:   "setup [dir]",
		Short: "Create " + setup.DefaultDirName + "/ in dir (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := "."
			if len(args) == 1 {
				parent = args[0]
			}
			base, err := filepath.Abs(filepath.Join(parent, setup.DefaultDirName))
			if err != nil {
				return err
			}
			if err := setup.Run(base, opts); err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", base)
			if opts.Token == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Set store.token in %s before starting the daemon.\n",
					filepath.Join(base, "config.yaml"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "storefront API token")
	cmd.Flags().StringVar(&opts.Sink, "sink", "", "execution sink (tmux|rcon|log)")
	return cmd
}
