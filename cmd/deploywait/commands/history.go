package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/ecairns22/deploywait/internal/state"
)

func historyCmd(opts *globalOptions) *cobra.Command {
	var (
		url   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent waits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), state.ListFilter{URL: url, Limit: limit})
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded. Run 'deploywait wait <url>' to get started.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tURL\tRESULT\tDNS\tHTTP\tSTATUS\tDURATION")

			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					shortID(run.ID),
					units.HumanDuration(time.Since(run.StartedAt))+" ago",
					run.URL,
					runOutcome(run),
					run.DNSAttempts,
					run.HTTPAttempts,
					statusText(run.LastStatus),
					run.Duration().Round(time.Millisecond),
				)
			}

			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Only show runs for this URL")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 = all)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runOutcome(run *state.Run) string {
	switch {
	case run.Error != "":
		return "error"
	case run.Ready:
		return "ready"
	case !run.DNSRegistered:
		return "timeout (dns)"
	}
	return "timeout"
}

func statusText(code int) string {
	if code == 0 {
		return "-"
	}
	return strconv.Itoa(code)
}
