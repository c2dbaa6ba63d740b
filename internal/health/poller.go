package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout  = 5 * time.Minute
	DefaultInterval = 1 * time.Second
)

// ErrInvalidURL is returned when the target cannot be parsed or has no host.
var ErrInvalidURL = errors.New("invalid target URL")

// Config holds the poll loop timing and error policy.
type Config struct {
	// Timeout is the total budget shared by the DNS and HTTP phases.
	Timeout time.Duration
	// Interval is the fixed pause between attempts in either phase.
	Interval time.Duration
	// Headers are sent with every HTTP probe in addition to Cache-Control.
	Headers map[string]string
	// FailOnHTTPError makes a request-level failure in the HTTP phase end the
	// poll with an error instead of counting as "not ready yet".
	FailOnHTTPError bool
}

// DefaultConfig returns a five-minute timeout polled once per second.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

// Result describes how a poll session ended.
type Result struct {
	URL           string
	Host          string
	Ready         bool
	DNSRegistered bool
	DNSAttempts   int
	HTTPAttempts  int
	LastStatus    int
	StartedAt     time.Time
	Elapsed       time.Duration
}

// Poller waits for a deployment to become reachable: first for its host to
// resolve, then for its URL to answer 200, within one shared deadline.
type Poller struct {
	cfg      Config
	resolver Resolver
	prober   Prober
	reporter Reporter
	clock    Clock
	logger   zerolog.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces the system clock, typically with a FakeClock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a Poller. A nil reporter is replaced by NopReporter.
func NewPoller(cfg Config, resolver Resolver, prober Prober, reporter Reporter, opts ...Option) *Poller {
	if reporter == nil {
		reporter = NopReporter{}
	}
	p := &Poller{
		cfg:      cfg,
		resolver: resolver,
		prober:   prober,
		reporter: reporter,
		clock:    SystemClock{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll reports whether rawURL answered 200 before the deadline.
func (p *Poller) Poll(ctx context.Context, rawURL string) (bool, error) {
	res, err := p.Run(ctx, rawURL)
	if err != nil {
		return false, err
	}
	return res.Ready, nil
}

// Run executes both phases and returns the detailed outcome. The returned
// Result is non-nil whenever polling started, even alongside an error.
func (p *Poller) Run(ctx context.Context, rawURL string) (*Result, error) {
	host, err := targetHost(rawURL)
	if err != nil {
		return nil, err
	}

	start := p.clock.Now()
	deadline := NewDeadline(p.clock, p.cfg.Timeout)
	res := &Result{URL: rawURL, Host: host, StartedAt: start}
	finish := func() *Result {
		res.Elapsed = p.clock.Now().Sub(start)
		return res
	}

	for !deadline.Expired() {
		p.reporter.Start("Waiting for deployment to become available")
		res.DNSAttempts++
		if p.resolved(ctx, deadline, host, res.DNSAttempts) {
			res.DNSRegistered = true
			p.reporter.Update("DNS registered")
			break
		}
		if deadline.Expired() {
			continue
		}
		if err := p.clock.Sleep(ctx, p.cfg.Interval); err != nil {
			return finish(), err
		}
	}

	for !deadline.Expired() {
		p.reporter.Update("Waiting for website to be available at " + rawURL)
		res.HTTPAttempts++
		status, err := p.fetch(ctx, deadline, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return finish(), ctx.Err()
			}
			// a request cut off by the deadline is a timeout, not a failure
			if p.cfg.FailOnHTTPError && !deadline.Expired() {
				return finish(), fmt.Errorf("probing %s: %w", rawURL, err)
			}
			p.logger.Debug().Err(err).Str("url", rawURL).Int("attempt", res.HTTPAttempts).Msg("http probe failed")
		} else {
			res.LastStatus = status
			if status == http.StatusOK {
				res.Ready = true
				p.reporter.Ready(rawURL)
				return finish(), nil
			}
			p.logger.Debug().Str("url", rawURL).Int("status", status).Int("attempt", res.HTTPAttempts).Msg("not ready")
		}
		if deadline.Expired() {
			continue
		}
		if err := p.clock.Sleep(ctx, p.cfg.Interval); err != nil {
			return finish(), err
		}
	}

	p.reporter.TimedOut(rawURL)
	return finish(), nil
}

// resolved swallows every resolver error; a lookup failure only means "not yet".
func (p *Poller) resolved(ctx context.Context, deadline Deadline, host string, attempt int) bool {
	ctx, cancel := context.WithTimeout(ctx, deadline.Remaining())
	defer cancel()

	ips, err := p.resolver.ResolveA(ctx, host)
	if err != nil {
		p.logger.Debug().Err(err).Str("host", host).Int("attempt", attempt).Msg("dns lookup failed")
		return false
	}
	p.logger.Debug().Str("host", host).Int("addresses", len(ips)).Int("attempt", attempt).Msg("dns lookup")
	return len(ips) > 0
}

// fetch issues one GET bounded by the time left before the deadline.
func (p *Poller) fetch(ctx context.Context, deadline Deadline, rawURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline.Remaining())
	defer cancel()
	return p.prober.Get(ctx, rawURL, p.cfg.Headers)
}

func targetHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}
	return u.Hostname(), nil
}
