package run

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func sampleState() State {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return State{
		RunID:    "onstove-tests-1234",
		Workflow: "onstove tests",
		Status:   StatusRunning,
		Event: EventRecord{
			Kind:         "pull_request",
			BaseRef:      "main",
			HeadSHA:      "abc123",
			ChangedFiles: []string{"onstove/model.py"},
		},
		JobOrder: []string{"test (3.10.*)"},
		Jobs: map[string]JobState{
			"test (3.10.*)": {
				ID:     "test (3.10.*)",
				JobID:  "test",
				RunsOn: "windows-latest",
				Cell:   map[string]string{"python-version": "3.10.*"},
				Status: JobRunning,
				Steps: []StepState{
					{Name: "pytest", Run: "pytest", Status: StepRunning, StartedAt: now},
				},
				StartedAt: now,
			},
		},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "state.json"))
	want := sampleState()
	if err := repo.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.RunID != want.RunID || got.Status != want.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	job, ok := got.Jobs["test (3.10.*)"]
	if !ok {
		t.Fatalf("job missing after round trip: %v", got.JobOrder)
	}
	if job.Cell["python-version"] != "3.10.*" {
		t.Fatalf("cell lost in round trip: %+v", job.Cell)
	}
	if len(job.Steps) != 1 || job.Steps[0].Status != StepRunning {
		t.Fatalf("steps lost in round trip: %+v", job.Steps)
	}
}

func TestRepositoryLoadMissingState(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "state.json"))
	if _, err := repo.Load(); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestStateCountsAndOrder(t *testing.T) {
	state := sampleState()
	state.Jobs["docs"] = JobState{ID: "docs", JobID: "docs", Status: JobSucceeded}
	state.JobOrder = append(state.JobOrder, "docs")

	succeeded, failed, cancelled, skipped, active := state.Counts()
	if succeeded != 1 || failed != 0 || cancelled != 0 || skipped != 0 || active != 1 {
		t.Fatalf("counts: %d %d %d %d %d", succeeded, failed, cancelled, skipped, active)
	}
	ordered := state.JobStates()
	if len(ordered) != 2 || ordered[0].JobID != "test" || ordered[1].JobID != "docs" {
		t.Fatalf("unexpected order: %+v", ordered)
	}
}
