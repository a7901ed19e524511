package condaenv

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

func stepContext(t *testing.T, exec executor.Executor, params map[string]string) *action.StepContext {
	t.Helper()
	run := rundir.NewProject(filepath.Join(t.TempDir(), ".gantry")).Run("run-conda")
	if err := run.Initialize(); err != nil {
		t.Fatalf("initialize run: %v", err)
	}
	book, err := logbook.New(run.LogbookPath())
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	return action.NewContext(run, exec, book).WithParams(params)
}

func seedDescriptor(t *testing.T, step *action.StepContext, name, content string) {
	t.Helper()
	path := filepath.Join(step.Workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const testsDescriptor = `name: onstove-tests
channels:
  - conda-forge
dependencies:
  - python=3.10
  - pytest
`

func argLine(cmd executor.Command) string {
	return strings.Join(append([]string{cmd.Binary}, cmd.Args...), " ")
}

func TestRunProvisionsFromEnvironmentFile(t *testing.T) {
	exec := &stubExecutor{results: []*executor.Result{
		{},
		{},
		{Stdout: "/opt/conda\n"},
	}}
	step := stepContext(t, exec, map[string]string{
		"activate-environment": "onstove-tests",
		"environment-file":     "environment-tests.yml",
		"python-version":       "3.10.*",
		"auto-activate-base":   "false",
	})
	seedDescriptor(t, step, "environment-tests.yml", testsDescriptor)

	result, err := New().Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}

	want := []string{
		"conda env update --name onstove-tests --file environment-tests.yml",
		"conda install --yes --name onstove-tests python=3.10.*",
		"conda info --base",
	}
	if len(exec.commands) != len(want) {
		t.Fatalf("ran %d commands, want %d", len(exec.commands), len(want))
	}
	for i, line := range want {
		if got := argLine(exec.commands[i]); got != line {
			t.Fatalf("command %d = %q, want %q", i, got, line)
		}
	}

	exports := step.Exports()
	if exports["CONDA_DEFAULT_ENV"] != "onstove-tests" {
		t.Fatalf("CONDA_DEFAULT_ENV = %q", exports["CONDA_DEFAULT_ENV"])
	}
	prefix := filepath.Join("/opt/conda", "envs", "onstove-tests")
	if exports["CONDA_PREFIX"] != prefix {
		t.Fatalf("CONDA_PREFIX = %q, want %q", exports["CONDA_PREFIX"], prefix)
	}
	if !strings.HasPrefix(exports["PATH"], filepath.Join(prefix, "bin")) {
		t.Fatalf("PATH = %q should start with the environment's bin dir", exports["PATH"])
	}
	if exports["CONDA_AUTO_ACTIVATE_BASE"] != "false" {
		t.Fatalf("CONDA_AUTO_ACTIVATE_BASE = %q, want false", exports["CONDA_AUTO_ACTIVATE_BASE"])
	}
}

func TestRunCreatesFromPythonVersionOnly(t *testing.T) {
	exec := &stubExecutor{results: []*executor.Result{{}, {Stdout: "/opt/conda\n"}}}
	step := stepContext(t, exec, map[string]string{
		"activate-environment": "scratch",
		"python-version":       "3.11",
	})

	if _, err := New().Run(context.Background(), step); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := argLine(exec.commands[0]); got != "conda create --yes --name scratch python=3.11" {
		t.Fatalf("first command = %q", got)
	}
	if exports := step.Exports(); exports["CONDA_AUTO_ACTIVATE_BASE"] != "" {
		t.Fatal("auto-activate-base defaults to true; no export expected")
	}
}

func TestRunStopsAfterProvisioningFailure(t *testing.T) {
	exec := &stubExecutor{results: []*executor.Result{{ExitCode: 9, Stderr: "solver failed"}}}
	step := stepContext(t, exec, map[string]string{
		"activate-environment": "onstove-tests",
		"environment-file":     "environment-tests.yml",
		"python-version":       "3.10.*",
	})
	seedDescriptor(t, step, "environment-tests.yml", testsDescriptor)

	result, err := New().Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != action.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.ExitCode != 9 {
		t.Fatalf("exit code = %d, want conda's own 9", result.ExitCode)
	}
	if len(exec.commands) != 1 {
		t.Fatalf("ran %d commands after the failure, want 1", len(exec.commands))
	}
	if len(step.Exports()) != 0 {
		t.Fatal("a failed provisioning must not export activation variables")
	}
}

func TestRunRejectsMalformedDescriptor(t *testing.T) {
	exec := &stubExecutor{}
	step := stepContext(t, exec, map[string]string{
		"activate-environment": "onstove-tests",
		"environment-file":     "environment-tests.yml",
	})
	seedDescriptor(t, step, "environment-tests.yml", "name: [unclosed")

	result, err := New().Run(context.Background(), step)
	if err == nil {
		t.Fatal("expected an error for a malformed environment file")
	}
	if result.Status != action.StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(exec.commands) != 0 {
		t.Fatalf("ran %d conda commands, want none before the parse", len(exec.commands))
	}
}

func TestRunFailsWhenDescriptorMissing(t *testing.T) {
	exec := &stubExecutor{}
	step := stepContext(t, exec, map[string]string{
		"activate-environment": "onstove-tests",
		"environment-file":     "environment-tests.yml",
	})

	if _, err := New().Run(context.Background(), step); err == nil {
		t.Fatal("expected an error for a missing environment file")
	}
	if len(exec.commands) != 0 {
		t.Fatalf("ran %d conda commands, want none", len(exec.commands))
	}
}

func TestRunRequiresEnvironmentName(t *testing.T) {
	step := stepContext(t, &stubExecutor{}, map[string]string{"environment-file": "environment.yml"})
	if _, err := New().Run(context.Background(), step); err == nil {
		t.Fatal("expected an error without activate-environment")
	}
}

func TestRunRequiresFileOrPythonVersion(t *testing.T) {
	step := stepContext(t, &stubExecutor{}, map[string]string{"activate-environment": "bare"})
	if _, err := New().Run(context.Background(), step); err == nil {
		t.Fatal("expected an error without environment-file or python-version")
	}
}
