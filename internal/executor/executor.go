// Package executor runs step commands on behalf of the run engine. A job's
// steps all execute through one Executor so an environment activated by an
// early step is visible to the later ones.
package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns its result. The error return is
	// reserved for infrastructure failures: a command that ran and exited
	// nonzero yields a Result, not an error.
	Execute(ctx context.Context, cmd Command) (*Result, error)

	// Capabilities returns what this executor supports.
	Capabilities() Capabilities

	// Validate checks whether the command can be executed by this executor.
	Validate(cmd Command) error
}

// Command is the input specification for all executor kinds.
type Command struct {
	// Binary is the executable to run (e.g. "git", "conda", "pytest").
	Binary string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory. Empty means the executor's default.
	Dir string
	// Env lists variables in KEY=VALUE form. Local execution appends them
	// to the host environment; containers receive exactly this set.
	Env []string
	// Stdin provides input to the command's standard input.
	Stdin string
	// Limits constrains execution. Zero values take executor defaults.
	Limits Limits
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Limits constrains wall time and captured output size.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int64
}

const (
	// DefaultTimeout bounds a step that declares no timeout of its own.
	DefaultTimeout = 6 * time.Hour
	// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
	DefaultMaxOutputBytes = 10 << 20
)

func (l Limits) withDefaults() Limits {
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return l
}

// Result is the outcome of one executed command.
type Result struct {
	// ExitCode is the command's exit code, -1 when unavailable.
	ExitCode int
	Stdout   string
	Stderr   string
	// Killed is set when the command was stopped before completing, with
	// KillReason explaining why (timeout or cancellation).
	Killed     bool
	KillReason string
	// Truncated is set when output exceeded the configured cap.
	Truncated bool
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the command ran to completion with exit code 0.
func (r *Result) Succeeded() bool {
	return r != nil && !r.Killed && r.ExitCode == 0
}

// Combined merges stdout and stderr for display.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Capabilities describes what an executor can do.
type Capabilities struct {
	// Name is the executor implementation name ("local", "docker").
	Name string
	// Platform is the operating system commands run on.
	Platform string
	// SupportsStdin indicates stdin input is supported.
	SupportsStdin bool
	// DefaultTimeout is used when a command declares none.
	DefaultTimeout time.Duration
}

// limitedWriter caps how many bytes reach the underlying writer and counts
// the overflow.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		lw.discarded += int64(len(p))
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		lw.truncated = true
		lw.discarded += int64(len(p)) - remaining
		if _, err := lw.w.Write(p[:remaining]); err != nil {
			return 0, err
		}
		lw.written = lw.max
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return len(p), err
}

func validateCommand(cmd Command) error {
	if strings.TrimSpace(cmd.Binary) == "" {
		return fmt.Errorf("executor: binary is required")
	}
	return nil
}

// ContextKillReason classifies why an execution context ended early.
func contextKillReason(ctx context.Context, timeout time.Duration) string {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return "context canceled"
}
