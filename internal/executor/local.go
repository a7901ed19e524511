package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Local executes commands as child processes of the runner.
type Local struct {
	// baseDir is the working directory for commands that declare none.
	baseDir string
}

// NewLocal returns an executor that runs commands on the host. baseDir is
// used when a command declares no working directory; empty means the
// runner's own working directory.
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

// Execute implements Executor.
func (l *Local) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := l.Validate(cmd); err != nil {
		return nil, err
	}
	limits := cmd.Limits.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	proc.Dir = cmd.Dir
	if proc.Dir == "" {
		proc.Dir = l.baseDir
	}
	proc.Env = append(os.Environ(), cmd.Env...)
	if cmd.Stdin != "" {
		proc.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	outWriter := &limitedWriter{w: &stdout, max: limits.MaxOutputBytes}
	errWriter := &limitedWriter{w: &stderr, max: limits.MaxOutputBytes}
	proc.Stdout = outWriter
	proc.Stderr = errWriter

	started := time.Now()
	runErr := proc.Run()

	result := &Result{
		ExitCode:  0,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: outWriter.truncated || errWriter.truncated,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	if runErr != nil {
		switch {
		case runCtx.Err() != nil:
			result.Killed = true
			result.KillReason = contextKillReason(runCtx, limits.Timeout)
			result.ExitCode = -1
		default:
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
			} else {
				// The process never ran: missing binary, bad
				// working directory, fork failure.
				return nil, fmt.Errorf("executor: run %s: %w", cmd.Binary, runErr)
			}
		}
	}

	return result, nil
}

// Capabilities implements Executor.
func (l *Local) Capabilities() Capabilities {
	return Capabilities{
		Name:           "local",
		Platform:       runtime.GOOS,
		SupportsStdin:  true,
		DefaultTimeout: DefaultTimeout,
	}
}

// Validate implements Executor.
func (l *Local) Validate(cmd Command) error {
	return validateCommand(cmd)
}
