package rundir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeCreatesTree(t *testing.T) {
	project := NewProject(filepath.Join(t.TempDir(), ".gantry"))
	if err := project.Initialize(); err != nil {
		t.Fatalf("initialize project: %v", err)
	}
	run := project.Run("pr42-main-0001")
	if err := run.Initialize(); err != nil {
		t.Fatalf("initialize run: %v", err)
	}

	for _, dir := range []string{
		project.WorkflowsDir(),
		project.RunsDir(),
		project.ActionsDir(),
		project.LogsDir(),
		run.JobLogsDir(),
		run.WorkspacePath(),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestRunIDsListsRunFolders(t *testing.T) {
	project := NewProject(filepath.Join(t.TempDir(), ".gantry"))
	if err := project.Run("run-a").Initialize(); err != nil {
		t.Fatalf("initialize run-a: %v", err)
	}
	if err := project.Run("run-b").Initialize(); err != nil {
		t.Fatalf("initialize run-b: %v", err)
	}

	ids, err := project.RunIDs()
	if err != nil {
		t.Fatalf("run ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want two runs", ids)
	}
}

func TestRunIDsMissingDirIsEmpty(t *testing.T) {
	project := NewProject(filepath.Join(t.TempDir(), ".gantry"))
	ids, err := project.RunIDs()
	if err != nil {
		t.Fatalf("run ids: %v", err)
	}
	if ids != nil {
		t.Fatalf("ids = %v, want none", ids)
	}
}

func TestMarkers(t *testing.T) {
	project := NewProject(filepath.Join(t.TempDir(), ".gantry"))
	run := project.Run("run-a")
	if err := run.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if run.HasMarker(MarkerUploaded) {
		t.Fatal("marker should not exist yet")
	}
	if err := run.WriteMarker(MarkerUploaded); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if !run.HasMarker(MarkerUploaded) {
		t.Fatal("marker should exist after writing")
	}
}

func TestJobLogPathFlattensInstanceIDs(t *testing.T) {
	run := NewProject("/tmp/.gantry").Run("run-a")
	got := run.JobLogPath("test (windows-latest, 3.10.*)")
	want := filepath.Join("/tmp/.gantry", "runs", "run-a", "logs", "test-windows-latest-3.10.log")
	if got != want {
		t.Fatalf("JobLogPath = %q, want %q", got, want)
	}
}
