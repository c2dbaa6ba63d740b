package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ecairns22/deploywait/internal/config"
)

func initCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "First-time setup: write config template, test the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}
}

func runInit(cmd *cobra.Command, opts *globalOptions) error {
	out := cmd.OutOrStdout()

	// 1. Write template config if missing
	path := configPath(opts)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(config.TemplateConfig()), 0600); err != nil {
			return fmt.Errorf("writing config template: %w", err)
		}
		fmt.Fprintf(out, "  wrote config template to %s\n", path)
		fmt.Fprintf(out, "\nEdit %s with your settings, then run 'deploywait init' again.\n", path)
		return nil
	}

	// 2. Load config
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fmt.Fprintf(out, "  config loaded from %s\n", path)

	// 3. Initialize the history store
	store, err := openHistory(cmd.Context(), cfg)
	switch {
	case errors.Is(err, errHistoryDisabled):
		fmt.Fprintf(out, "  history: disabled\n")
	case err != nil:
		fmt.Fprintf(out, "  history (%s): FAILED (%v)\n", cfg.History.Driver, err)
		return err
	default:
		store.Close()
		fmt.Fprintf(out, "  history (%s): OK\n", cfg.History.Driver)
	}

	fmt.Fprintf(out, "\ndeploywait initialized successfully.\n")
	return nil
}
