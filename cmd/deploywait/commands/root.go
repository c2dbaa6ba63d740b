package commands

import (
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

// Root returns the root cobra command with all subcommands attached.
func Root() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:          "deploywait",
		Short:        "Wait for a deployment to become available",
		Long:         "deploywait blocks until a freshly deployed site resolves in public DNS and answers HTTP 200, or a timeout passes.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $DEPLOYWAIT_CONFIG or /etc/deploywait/deploywait.conf)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")

	cmd.AddCommand(initCmd(opts))
	cmd.AddCommand(waitCmd(opts))
	cmd.AddCommand(githubCmd(opts))
	cmd.AddCommand(historyCmd(opts))
	cmd.AddCommand(versionCmd())

	return cmd
}
