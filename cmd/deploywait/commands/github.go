package commands

import (
	"github.com/spf13/cobra"

	"github.com/ecairns22/deploywait/internal/orchestrator"
)

func githubCmd(opts *globalOptions) *cobra.Command {
	var environment string
	flags := &waitFlags{}

	cmd := &cobra.Command{
		Use:   "github <owner/repo>",
		Short: "Wait for the newest GitHub deployment of an environment",
		Long: `Look up the environment URL of the newest successful GitHub deployment and
wait for it like 'deploywait wait'. A bare repository name uses github.owner
from the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := buildOrchestrator(cmd, opts, flags)
			if err != nil {
				return err
			}
			defer session.cleanup()

			result, err := session.orc.WaitForDeployment(cmd.Context(), orchestrator.DeploymentRequest{
				Repo:        args[0],
				Environment: environment,
				OnReady:     flags.onReady,
			})
			if err != nil {
				return err
			}
			return session.finish(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "production", "GitHub deployment environment")
	flags.register(cmd)
	return cmd
}
