package lint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/actions"
	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/workflow"
)

func testLinter(t *testing.T) *Linter {
	t.Helper()
	dir := t.TempDir()
	if err := config.InitGantryDir(dir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	registry := action.NewRegistry()
	actions.RegisterBuiltins(registry)
	return New(cfg, registry)
}

func validDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "onstove tests",
		On: workflow.Triggers{PullRequest: &workflow.PullRequestRule{
			Branches: []string{"main"},
			Paths:    []string{"onstove/*"},
		}},
		Jobs: map[string]workflow.Job{
			"test": {
				RunsOn: "windows-latest",
				Strategy: workflow.Strategy{
					Matrix: workflow.Matrix{"python-version": {"3.10.*"}},
				},
				Steps: []workflow.Step{
					{Uses: "checkout"},
					{Uses: "setup-conda", With: workflow.StringMap{"environment-file": "environment-tests.yml"}},
					{Run: "pytest -q"},
				},
			},
		},
	}
}

func TestLinterAcceptsValidDefinition(t *testing.T) {
	linter := testLinter(t)
	if errs := linter.CheckDefinition(validDefinition()); len(errs) != 0 {
		t.Fatalf("expected clean lint, got %v", errs)
	}
}

func TestLinterFlagsUnknownRunnerLabel(t *testing.T) {
	linter := testLinter(t)
	def := validDefinition()
	job := def.Jobs["test"]
	job.RunsOn = "solaris-box"
	def.Jobs["test"] = job
	errs := linter.CheckDefinition(def)
	if len(errs) == 0 {
		t.Fatalf("expected runner label error")
	}
	if !strings.Contains(errs[0].Error(), "solaris-box") {
		t.Fatalf("error should name the label: %v", errs[0])
	}
}

func TestLinterFlagsUnknownAction(t *testing.T) {
	linter := testLinter(t)
	def := validDefinition()
	job := def.Jobs["test"]
	job.Steps = append(job.Steps, workflow.Step{Uses: "publish-to-mars"})
	def.Jobs["test"] = job
	errs := linter.CheckDefinition(def)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "publish-to-mars") {
		t.Fatalf("expected unknown action error, got %v", errs)
	}
}

func TestLinterFlagsBadMatrixReference(t *testing.T) {
	linter := testLinter(t)
	def := validDefinition()
	job := def.Jobs["test"]
	job.Steps = append(job.Steps, workflow.Step{Run: "pytest ${{ matrix.os }}"})
	def.Jobs["test"] = job
	if errs := linter.CheckDefinition(def); len(errs) == 0 {
		t.Fatalf("expected matrix reference error")
	}
}

func TestLinterCheckFileReportsParseErrors(t *testing.T) {
	linter := testLinter(t)
	path := filepath.Join(t.TempDir(), "broken.yml")
	if err := os.WriteFile(path, []byte("name: [unclosed"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	report, err := linter.CheckFile(path)
	if err != nil {
		t.Fatalf("check file: %v", err)
	}
	if report.IsValid() {
		t.Fatalf("expected parse errors in report")
	}
}

func TestLinterCheckDirSortsReports(t *testing.T) {
	linter := testLinter(t)
	dir := t.TempDir()
	for _, name := range []string{"b.yml", "a.yml"} {
		if err := workflow.SaveDefinition(filepath.Join(dir, name), validDefinition()); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	reports, err := linter.CheckDir(dir)
	if err != nil {
		t.Fatalf("check dir: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if filepath.Base(reports[0].Path) != "a.yml" {
		t.Fatalf("reports not sorted: %s first", reports[0].Path)
	}
	for _, report := range reports {
		if !report.IsValid() {
			t.Fatalf("%s: unexpected errors %v", report.Path, report.Errors)
		}
	}
}
