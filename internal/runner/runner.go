package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	// Run executes name with args. env entries (KEY=VALUE) are added to the
	// current process environment.
	Run(ctx context.Context, env []string, name string, args ...string) (stdout, stderr string, err error)
}

// OSRunner executes commands via os/exec.
type OSRunner struct{}

func (r *OSRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Shell runs script with sh -c.
func Shell(ctx context.Context, r CommandRunner, env []string, script string) (string, string, error) {
	return r.Run(ctx, env, "sh", "-c", script)
}
