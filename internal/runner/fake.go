package runner

import (
	"context"
	"strings"
	"sync"
)

// Call records a single invocation of a command.
type Call struct {
	Name string
	Args []string
	Env  []string
}

func (c Call) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Response is a pre-configured response for a command.
type Response struct {
	Stdout string
	Stderr string
	Err    error
}

// FakeRunner records command calls and returns pre-configured responses.
// Exported for use by orchestrator and command tests.
type FakeRunner struct {
	mu        sync.Mutex
	Calls     []Call
	responses map[string]Response // key: "name arg1 arg2..."
	fallback  Response
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

// SetResponse configures a response for an exact command string.
func (f *FakeRunner) SetResponse(cmd string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = resp
}

// SetFallback sets the default response for unmatched commands.
func (f *FakeRunner) SetFallback(resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = resp
}

// Run records the call and returns the matching response.
func (f *FakeRunner) Run(_ context.Context, env []string, name string, args ...string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Name: name, Args: args, Env: env}
	f.Calls = append(f.Calls, call)

	if resp, ok := f.responses[call.String()]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}
	return f.fallback.Stdout, f.fallback.Stderr, f.fallback.Err
}

// CallCount returns the number of recorded calls whose command line starts with prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

var _ CommandRunner = (*FakeRunner)(nil)
var _ CommandRunner = (*OSRunner)(nil)
