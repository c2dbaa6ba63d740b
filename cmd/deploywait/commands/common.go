package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ecairns22/deploywait/internal/config"
	ghclient "github.com/ecairns22/deploywait/internal/github"
	"github.com/ecairns22/deploywait/internal/health"
	"github.com/ecairns22/deploywait/internal/logging"
	"github.com/ecairns22/deploywait/internal/metrics"
	"github.com/ecairns22/deploywait/internal/orchestrator"
	"github.com/ecairns22/deploywait/internal/runner"
	"github.com/ecairns22/deploywait/internal/state"
	"github.com/ecairns22/deploywait/internal/status"
)

// errNotReady makes the process exit 1 when the deadline passes.
var errNotReady = errors.New("deployment did not become available before the timeout")

var errHistoryDisabled = errors.New("run history is disabled (history.driver = \"none\")")

// loadConfig reads --config when given, otherwise the default location.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFrom(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func configPath(opts *globalOptions) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return config.DefaultPath()
}

// openHistory opens the run store selected by history.driver. It returns
// errHistoryDisabled for the "none" driver.
func openHistory(ctx context.Context, cfg *config.Config) (*state.Store, error) {
	switch cfg.History.Driver {
	case config.HistorySQLite:
		store, err := state.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("opening history %s: %w", cfg.History.Path, err)
		}
		return store, nil
	case config.HistoryMySQL:
		store, err := state.OpenMySQL(ctx, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening mysql history: %w", err)
		}
		return store, nil
	}
	return nil, errHistoryDisabled
}

// waitFlags are shared by the wait and github commands. Flags override the
// config file only when set explicitly.
type waitFlags struct {
	timeout         time.Duration
	interval        time.Duration
	onReady         string
	failOnHTTPError bool
	noHistory       bool
	metricsFile     string
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", health.DefaultTimeout, "Total time to wait for DNS and HTTP")
	cmd.Flags().DurationVar(&f.interval, "interval", health.DefaultInterval, "Pause between attempts")
	cmd.Flags().StringVar(&f.onReady, "on-ready", "", "Shell command to run once the deployment is ready ($DEPLOYWAIT_URL is set)")
	cmd.Flags().BoolVar(&f.failOnHTTPError, "fail-on-http-error", false, "Stop with an error when an HTTP request fails instead of retrying")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "Do not record this run")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics for this run to a textfile collector file")
}

func (f *waitFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Poll.Timeout = config.Duration(f.timeout)
	}
	if flags.Changed("interval") {
		cfg.Poll.Interval = config.Duration(f.interval)
	}
	if flags.Changed("fail-on-http-error") {
		cfg.Poll.FailOnHTTPError = f.failOnHTTPError
	}
	if cfg.Poll.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if cfg.Poll.Interval > cfg.Poll.Timeout {
		return fmt.Errorf("--interval (%s) exceeds --timeout (%s)", cfg.Poll.Interval.Std(), cfg.Poll.Timeout.Std())
	}
	if f.metricsFile != "" {
		cfg.Metrics.Textfile = f.metricsFile
	}
	if f.noHistory {
		cfg.History.Driver = config.HistoryNone
	}
	return nil
}

// waitSession is everything a wait or github command needs after setup.
type waitSession struct {
	orc         *orchestrator.Orchestrator
	logger      zerolog.Logger
	metricsFile string
	cleanup     func()
}

// buildOrchestrator loads config and constructs the poller and its
// collaborators into an Orchestrator.
// The caller is responsible for calling the returned session's cleanup.
func buildOrchestrator(cmd *cobra.Command, opts *globalOptions, flags *waitFlags) (*waitSession, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log.Level, cmd.ErrOrStderr())

	// Each lookup and request is bounded by request_timeout, or by the whole
	// poll budget when unset.
	attemptTimeout := cfg.Poll.RequestTimeout.Std()
	if attemptTimeout == 0 {
		attemptTimeout = cfg.Poll.Timeout.Std()
	}
	resolver := health.NewDNSResolver(cfg.DNS.Servers, attemptTimeout)
	logger.Debug().Strs("servers", resolver.Servers()).Dur("attempt_timeout", attemptTimeout).Msg("dns resolver")
	prober := health.NewHTTPProber(attemptTimeout)
	reporter := status.New(cmd.OutOrStdout())

	poller := health.NewPoller(cfg.PollerConfig(), resolver, prober, reporter, health.WithLogger(logger))

	var runs orchestrator.RunStore
	store, err := openHistory(cmd.Context(), cfg)
	switch {
	case err == nil:
		runs = store
	case errors.Is(err, errHistoryDisabled):
	default:
		// history is best effort; waiting must still work without it
		logger.Warn().Err(err).Msg("run history unavailable")
	}

	gh := ghclient.New(cfg.GitHub.Token, cfg.GitHub.Owner)
	orc := orchestrator.New(poller, runs, gh, &runner.OSRunner{}, cfg.History.Keep, logger)

	return &waitSession{
		orc:         orc,
		logger:      logger,
		metricsFile: cfg.Metrics.Textfile,
		cleanup: func() {
			prober.Close()
			if store != nil {
				store.Close()
			}
		},
	}, nil
}

// finish prints hook output, writes the metrics file and turns a timeout
// into errNotReady.
func (s *waitSession) finish(cmd *cobra.Command, result *orchestrator.WaitResult) error {
	if result.HookOutput != "" {
		fmt.Fprint(cmd.OutOrStdout(), result.HookOutput)
	}
	if s.metricsFile != "" {
		rec := metrics.New()
		rec.Observe(result, time.Now())
		if err := rec.WriteFile(s.metricsFile); err != nil {
			s.logger.Warn().Err(err).Msg("metrics not written")
		}
	}
	if !result.Ready {
		return errNotReady
	}
	return nil
}
