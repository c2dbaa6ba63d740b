package commands

import (
	"github.com/spf13/cobra"

	"github.com/ecairns22/deploywait/internal/orchestrator"
)

func waitCmd(opts *globalOptions) *cobra.Command {
	flags := &waitFlags{}

	cmd := &cobra.Command{
		Use:   "wait <url>",
		Short: "Wait until a URL resolves in DNS and answers 200",
		Long: `Wait polls public DNS until the URL's host has an A record, then requests
the URL until it answers 200 OK. Both phases share one timeout. The command
exits 1 if the deployment is not available in time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := buildOrchestrator(cmd, opts, flags)
			if err != nil {
				return err
			}
			defer session.cleanup()

			result, err := session.orc.Wait(cmd.Context(), orchestrator.WaitRequest{
				URL:     args[0],
				OnReady: flags.onReady,
			})
			if err != nil {
				return err
			}
			return session.finish(cmd, result)
		},
	}

	flags.register(cmd)
	return cmd
}
