package orchestrator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecairns22/deploywait/internal/health"
	"github.com/ecairns22/deploywait/internal/runner"
	"github.com/ecairns22/deploywait/internal/state"
)

type fakePoller struct {
	result *health.Result
	err    error
	urls   []string
}

func (p *fakePoller) Run(_ context.Context, url string) (*health.Result, error) {
	p.urls = append(p.urls, url)
	if p.result != nil {
		r := *p.result
		r.URL = url
		return &r, p.err
	}
	return nil, p.err
}

type fakeStore struct {
	runs      []*state.Run
	insertErr error
	pruned    []int
}

func (s *fakeStore) InsertRun(_ context.Context, run *state.Run) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) PruneRuns(_ context.Context, keep int) (int64, error) {
	s.pruned = append(s.pruned, keep)
	return 0, nil
}

type fakeFinder struct {
	url   string
	err   error
	calls []string
}

func (f *fakeFinder) DeploymentURL(_ context.Context, owner, repo, env string) (string, error) {
	f.calls = append(f.calls, owner+"/"+repo+"@"+env)
	return f.url, f.err
}

var started = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func readyResult() *health.Result {
	return &health.Result{
		Host:          "app.example.test",
		Ready:         true,
		DNSRegistered: true,
		DNSAttempts:   1,
		HTTPAttempts:  2,
		LastStatus:    200,
		StartedAt:     started,
		Elapsed:       time.Second,
	}
}

func TestWaitReadyRecordsHistory(t *testing.T) {
	p := &fakePoller{result: readyResult()}
	store := &fakeStore{}
	o := New(p, store, nil, runner.NewFakeRunner(), 50, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ready || result.HTTPAttempts != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(store.runs) != 1 {
		t.Fatalf("recorded runs = %d, want 1", len(store.runs))
	}
	run := store.runs[0]
	if run.ID != result.RunID || run.Source != "url" || !run.Ready {
		t.Errorf("recorded run = %+v", run)
	}
	if !run.FinishedAt.Equal(started.Add(time.Second)) {
		t.Errorf("finished_at = %v", run.FinishedAt)
	}
	if len(store.pruned) != 1 || store.pruned[0] != 50 {
		t.Errorf("prune calls = %v, want [50]", store.pruned)
	}
}

func TestWaitTimeoutIsNotAnError(t *testing.T) {
	res := readyResult()
	res.Ready = false
	res.LastStatus = 503
	store := &fakeStore{}
	o := New(&fakePoller{result: res}, store, nil, runner.NewFakeRunner(), 0, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test", OnReady: "make smoke"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ready {
		t.Error("expected not ready")
	}
	if store.runs[0].Ready || store.runs[0].LastStatus != 503 {
		t.Errorf("recorded run = %+v", store.runs[0])
	}
}

func TestWaitRunsHookWhenReady(t *testing.T) {
	fr := runner.NewFakeRunner()
	fr.SetFallback(runner.Response{Stdout: "smoke ok\n"})
	o := New(&fakePoller{result: readyResult()}, nil, nil, fr, 0, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test", OnReady: "make smoke"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr.CallCount("sh -c make smoke") != 1 {
		t.Fatalf("hook calls = %v", fr.Calls)
	}
	if fr.Calls[0].Env[0] != "DEPLOYWAIT_URL=https://app.example.test" {
		t.Errorf("hook env = %v", fr.Calls[0].Env)
	}
	if result.HookOutput != "smoke ok\n" {
		t.Errorf("hook output = %q", result.HookOutput)
	}
	if result.RunID != "" {
		t.Errorf("no store configured, run ID should be empty, got %q", result.RunID)
	}
}

func TestWaitSkipsHookWhenNotReady(t *testing.T) {
	res := readyResult()
	res.Ready = false
	fr := runner.NewFakeRunner()
	o := New(&fakePoller{result: res}, nil, nil, fr, 0, zerolog.Nop())

	if _, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test", OnReady: "make smoke"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.Calls) != 0 {
		t.Errorf("hook should not run on timeout, calls = %v", fr.Calls)
	}
}

func TestWaitHookFailure(t *testing.T) {
	fr := runner.NewFakeRunner()
	fr.SetFallback(runner.Response{Stderr: "smoke failed\n", Err: errors.New("exit status 2")})
	store := &fakeStore{}
	o := New(&fakePoller{result: readyResult()}, store, nil, fr, 0, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test", OnReady: "make smoke"})
	if err == nil {
		t.Fatal("expected hook error")
	}
	if !strings.Contains(err.Error(), "smoke failed") {
		t.Errorf("error should carry hook stderr, got: %v", err)
	}
	if result == nil || !result.Ready {
		t.Error("target was ready even though the hook failed")
	}
	if !strings.Contains(store.runs[0].Error, "on-ready hook") {
		t.Errorf("recorded error = %q", store.runs[0].Error)
	}
}

func TestWaitPollErrorIsRecorded(t *testing.T) {
	res := readyResult()
	res.Ready = false
	pollErr := errors.New("connection reset")
	store := &fakeStore{}
	o := New(&fakePoller{result: res, err: pollErr}, store, nil, runner.NewFakeRunner(), 0, zerolog.Nop())

	_, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test"})
	if !errors.Is(err, pollErr) {
		t.Fatalf("error = %v, want wrapped poll error", err)
	}
	if len(store.runs) != 1 || store.runs[0].Error != "connection reset" {
		t.Errorf("recorded runs = %+v", store.runs)
	}
}

func TestWaitInvalidURLRecordsNothing(t *testing.T) {
	store := &fakeStore{}
	o := New(&fakePoller{err: health.ErrInvalidURL}, store, nil, runner.NewFakeRunner(), 0, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "not a url"})
	if !errors.Is(err, health.ErrInvalidURL) {
		t.Fatalf("error = %v, want ErrInvalidURL", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if len(store.runs) != 0 {
		t.Error("nothing should be recorded when polling never started")
	}
}

func TestWaitHistoryFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	o := New(&fakePoller{result: readyResult()}, store, nil, runner.NewFakeRunner(), 0, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: "https://app.example.test"})
	if err != nil {
		t.Fatalf("history errors must not fail the wait: %v", err)
	}
	if result.RunID != "" {
		t.Errorf("run ID = %q, want empty when recording failed", result.RunID)
	}
}

func TestWaitForDeployment(t *testing.T) {
	p := &fakePoller{result: readyResult()}
	store := &fakeStore{}
	finder := &fakeFinder{url: "https://site.example.test"}
	o := New(p, store, finder, runner.NewFakeRunner(), 0, zerolog.Nop())

	result, err := o.WaitForDeployment(context.Background(), DeploymentRequest{Repo: "acme/site", Environment: "production"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finder.calls[0] != "acme/site@production" {
		t.Errorf("finder calls = %v", finder.calls)
	}
	if p.urls[0] != "https://site.example.test" || result.URL != "https://site.example.test" {
		t.Errorf("polled %v, result URL %q", p.urls, result.URL)
	}
	if store.runs[0].Source != "github:acme/site@production" {
		t.Errorf("source = %q", store.runs[0].Source)
	}
}

func TestWaitForDeploymentErrors(t *testing.T) {
	p := &fakePoller{result: readyResult()}

	o := New(p, nil, nil, runner.NewFakeRunner(), 0, zerolog.Nop())
	if _, err := o.WaitForDeployment(context.Background(), DeploymentRequest{Repo: "acme/site"}); err == nil {
		t.Error("expected error without a GitHub client")
	}

	o = New(p, nil, &fakeFinder{}, runner.NewFakeRunner(), 0, zerolog.Nop())
	if _, err := o.WaitForDeployment(context.Background(), DeploymentRequest{Repo: "a/b/c"}); err == nil {
		t.Error("expected error for malformed repo")
	}

	lookupErr := errors.New("no deployment found")
	o = New(p, nil, &fakeFinder{err: lookupErr}, runner.NewFakeRunner(), 0, zerolog.Nop())
	if _, err := o.WaitForDeployment(context.Background(), DeploymentRequest{Repo: "acme/site"}); !errors.Is(err, lookupErr) {
		t.Errorf("error = %v, want wrapped lookup error", err)
	}
	if len(p.urls) != 0 {
		t.Error("nothing should be polled when the URL cannot be resolved")
	}
}

type staticResolver struct{}

func (staticResolver) ResolveA(context.Context, string) ([]net.IP, error) {
	return []net.IP{net.IPv4(127, 0, 0, 1)}, nil
}

// End to end through the real poller, HTTP prober and SQLite store.
func TestWaitEndToEnd(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store, err := state.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	clock := health.NewFakeClock(started)
	poller := health.NewPoller(health.DefaultConfig(), staticResolver{}, health.NewHTTPProber(time.Second), nil, health.WithClock(clock))
	o := New(poller, store, nil, runner.NewFakeRunner(), 10, zerolog.Nop())

	result, err := o.Wait(context.Background(), WaitRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ready || result.HTTPAttempts != 3 {
		t.Errorf("result = %+v", result)
	}

	run, err := store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.HTTPAttempts != 3 || !run.Ready || run.Duration() != 2*time.Second {
		t.Errorf("stored run = %+v", run)
	}
}
