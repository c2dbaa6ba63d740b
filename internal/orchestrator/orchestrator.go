package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ghclient "github.com/ecairns22/deploywait/internal/github"
	"github.com/ecairns22/deploywait/internal/health"
	"github.com/ecairns22/deploywait/internal/runner"
	"github.com/ecairns22/deploywait/internal/state"
)

// Poller is the subset of health.Poller the orchestrator drives.
type Poller interface {
	Run(ctx context.Context, url string) (*health.Result, error)
}

// RunStore is the subset of state.Store needed to keep run history.
type RunStore interface {
	InsertRun(ctx context.Context, run *state.Run) error
	PruneRuns(ctx context.Context, keep int) (int64, error)
}

// DeploymentFinder resolves a GitHub deployment to the URL it was deployed at.
type DeploymentFinder interface {
	DeploymentURL(ctx context.Context, owner, repo, environment string) (string, error)
}

// Orchestrator runs a wait end to end: poll, on-ready hook, history.
type Orchestrator struct {
	poller Poller
	store  RunStore // nil disables history
	gh     DeploymentFinder
	runner runner.CommandRunner
	keep   int
	logger zerolog.Logger
}

// New creates an Orchestrator. store and gh may be nil.
func New(p Poller, store RunStore, gh DeploymentFinder, r runner.CommandRunner, keep int, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		poller: p,
		store:  store,
		gh:     gh,
		runner: r,
		keep:   keep,
		logger: logger,
	}
}

// WaitRequest holds the parameters of a wait.
type WaitRequest struct {
	URL     string
	Source  string // recorded in history; defaults to "url"
	OnReady string // shell command run once the target is ready, empty = none
}

// WaitResult holds the outcome of a wait.
type WaitResult struct {
	RunID        string
	URL          string
	Ready        bool
	Elapsed      time.Duration
	DNSAttempts  int
	HTTPAttempts int
	LastStatus   int
	HookOutput   string
}

// Wait polls req.URL until it is ready or the poller's deadline passes. A
// timeout is not an error; the result reports Ready=false.
func (o *Orchestrator) Wait(ctx context.Context, req WaitRequest) (*WaitResult, error) {
	source := req.Source
	if source == "" {
		source = "url"
	}

	res, err := o.poller.Run(ctx, req.URL)
	if res == nil {
		// nothing was polled, so there is nothing to record
		return nil, err
	}

	result := &WaitResult{
		URL:          req.URL,
		Ready:        res.Ready,
		Elapsed:      res.Elapsed,
		DNSAttempts:  res.DNSAttempts,
		HTTPAttempts: res.HTTPAttempts,
		LastStatus:   res.LastStatus,
	}

	var hookErr error
	if err == nil && res.Ready && req.OnReady != "" {
		o.logger.Info().Str("url", req.URL).Str("command", req.OnReady).Msg("running on-ready hook")
		stdout, stderr, runErr := runner.Shell(ctx, o.runner, []string{"DEPLOYWAIT_URL=" + req.URL}, req.OnReady)
		result.HookOutput = stdout
		if runErr != nil {
			hookErr = fmt.Errorf("on-ready hook %q: %s: %w", req.OnReady, strings.TrimSpace(stderr), runErr)
		}
	}

	result.RunID = o.record(ctx, source, res, errors.Join(err, hookErr))
	o.logger.Info().
		Str("run_id", result.RunID).
		Str("url", req.URL).
		Bool("ready", result.Ready).
		Int("dns_attempts", result.DNSAttempts).
		Int("http_attempts", result.HTTPAttempts).
		Int("last_status", result.LastStatus).
		Dur("elapsed", result.Elapsed).
		Msg("wait finished")

	if err != nil {
		return result, fmt.Errorf("waiting for %s: %w", req.URL, err)
	}
	if hookErr != nil {
		return result, hookErr
	}
	return result, nil
}

// DeploymentRequest holds the parameters of a wait on a GitHub deployment.
type DeploymentRequest struct {
	Repo        string // "owner/repo" or "repo"
	Environment string
	OnReady     string
}

// WaitForDeployment looks up the newest deployment URL for the environment
// and waits for it.
func (o *Orchestrator) WaitForDeployment(ctx context.Context, req DeploymentRequest) (*WaitResult, error) {
	if o.gh == nil {
		return nil, fmt.Errorf("GitHub lookups are not configured")
	}
	owner, repo, err := ghclient.SplitRepo(req.Repo)
	if err != nil {
		return nil, err
	}

	url, err := o.gh.DeploymentURL(ctx, owner, repo, req.Environment)
	if err != nil {
		return nil, fmt.Errorf("resolving deployment URL: %w", err)
	}
	o.logger.Info().Str("repo", req.Repo).Str("environment", req.Environment).Str("url", url).Msg("resolved deployment URL")

	return o.Wait(ctx, WaitRequest{
		URL:     url,
		Source:  fmt.Sprintf("github:%s@%s", req.Repo, req.Environment),
		OnReady: req.OnReady,
	})
}

// record stores the run and prunes old ones. History failures are logged,
// never returned: they must not change the outcome of a wait.
func (o *Orchestrator) record(ctx context.Context, source string, res *health.Result, runErr error) string {
	if o.store == nil {
		return ""
	}
	// the wait may have ended because ctx was cancelled; still record it
	ctx = context.WithoutCancel(ctx)

	run := &state.Run{
		ID:            state.NewRunID(),
		URL:           res.URL,
		Host:          res.Host,
		Source:        source,
		Ready:         res.Ready,
		DNSRegistered: res.DNSRegistered,
		DNSAttempts:   res.DNSAttempts,
		HTTPAttempts:  res.HTTPAttempts,
		LastStatus:    res.LastStatus,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.StartedAt.Add(res.Elapsed),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := o.store.InsertRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Str("url", res.URL).Msg("recording run history")
		return ""
	}
	if n, err := o.store.PruneRuns(ctx, o.keep); err != nil {
		o.logger.Warn().Err(err).Msg("pruning run history")
	} else if n > 0 {
		o.logger.Debug().Int64("removed", n).Msg("pruned run history")
	}
	return run.ID
}
