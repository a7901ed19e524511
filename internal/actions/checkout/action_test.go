package checkout

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/executor"
	"github.com/kingrea/gantry/internal/logbook"
	"github.com/kingrea/gantry/internal/rundir"
)

type stubExecutor struct {
	commands []executor.Command
	results  []*executor.Result
}

func (s *stubExecutor) Execute(_ context.Context, cmd executor.Command) (*executor.Result, error) {
	s.commands = append(s.commands, cmd)
	if len(s.results) == 0 {
		return &executor.Result{}, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

func (s *stubExecutor) Capabilities() executor.Capabilities {
	return executor.Capabilities{Name: "stub"}
}

func (s *stubExecutor) Validate(executor.Command) error { return nil }

func stepContext(t *testing.T, exec executor.Executor) *action.StepContext {
	t.Helper()
	run := rundir.NewProject(filepath.Join(t.TempDir(), ".gantry")).Run("run-checkout")
	if err := run.Initialize(); err != nil {
		t.Fatalf("initialize run: %v", err)
	}
	book, err := logbook.New(run.LogbookPath())
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	return action.NewContext(run, exec, book)
}

func TestRunClonesFreshWorkspace(t *testing.T) {
	exec := &stubExecutor{}
	step := stepContext(t, exec).WithEnv([]string{
		"GANTRY_REPOSITORY=/srv/git/onstove.git",
		"GANTRY_SHA=3f2a1b7",
	})

	result, err := New().Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(exec.commands) != 2 {
		t.Fatalf("commands = %d, want clone + checkout", len(exec.commands))
	}
	clone := exec.commands[0]
	if clone.Binary != "git" || clone.Args[0] != "clone" || clone.Args[1] != "/srv/git/onstove.git" {
		t.Fatalf("first command = %s", clone.String())
	}
	if clone.Dir != step.Workspace {
		t.Fatalf("clone dir = %s, want workspace", clone.Dir)
	}
	co := exec.commands[1]
	if co.Args[len(co.Args)-1] != "3f2a1b7" {
		t.Fatalf("checkout command = %s, want the event SHA", co.String())
	}
	if !strings.Contains(result.Message, "3f2a1b7") {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestRunFetchesExistingClone(t *testing.T) {
	exec := &stubExecutor{}
	step := stepContext(t, exec).WithEnv([]string{"GANTRY_REPOSITORY=/srv/git/onstove.git"})
	if err := os.MkdirAll(filepath.Join(step.Workspace, ".git"), 0o755); err != nil {
		t.Fatalf("seed .git: %v", err)
	}

	if _, err := New().Run(context.Background(), step); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(exec.commands) == 0 || exec.commands[0].Args[0] != "fetch" {
		t.Fatalf("first command should fetch, got %v", exec.commands)
	}
}

func TestRunPropagatesGitExitCode(t *testing.T) {
	exec := &stubExecutor{results: []*executor.Result{{ExitCode: 128, Stderr: "fatal: repository not found"}}}
	step := stepContext(t, exec).WithEnv([]string{"GANTRY_REPOSITORY=/srv/git/missing.git"})

	result, err := New().Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != action.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.ExitCode != 128 {
		t.Fatalf("exit code = %d, want 128", result.ExitCode)
	}
}

func TestRunRequiresRepository(t *testing.T) {
	step := stepContext(t, &stubExecutor{})
	if _, err := New().Run(context.Background(), step); err == nil {
		t.Fatal("expected an error when no repository is configured")
	}
}
