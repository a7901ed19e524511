package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/gantry/internal/rundir"
)

func testRun(t *testing.T) *rundir.Run {
	t.Helper()
	run := rundir.NewProject(filepath.Join(t.TempDir(), ".gantry")).Run("run-test")
	if err := run.Initialize(); err != nil {
		t.Fatalf("initialize run: %v", err)
	}
	return run
}

func testStore(t *testing.T, run *rundir.Run) *Store {
	t.Helper()
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return NewStore(run, WithClock(func() time.Time { return fixed }))
}

func TestWriteAndCheckDocument(t *testing.T) {
	run := testRun(t)
	store := testStore(t, run)

	meta := Metadata{Producer: "engine", Version: "1", Run: run.ID()}
	if err := store.Write(SummaryDoc, []byte("# Run outcome\n"), meta); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	result, err := store.Check(SummaryDoc)
	if err != nil {
		t.Fatalf("check summary: %v", err)
	}
	if result.State != StateReady {
		t.Fatalf("state = %s, want ready", result.State)
	}
	if result.Metadata == nil || result.Metadata.Producer != "engine" {
		t.Fatalf("metadata = %+v, want producer engine", result.Metadata)
	}

	raw, err := os.ReadFile(run.SummaryPath())
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.HasPrefix(string(raw), "---\n") {
		t.Fatalf("summary missing frontmatter fence:\n%s", raw)
	}
}

func TestCheckMissingArtifact(t *testing.T) {
	store := testStore(t, testRun(t))
	result, err := store.Check(SummaryDoc)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.State != StateMissing {
		t.Fatalf("state = %s, want missing", result.State)
	}
}

func TestCheckDocumentWithoutFrontmatterIsInvalid(t *testing.T) {
	run := testRun(t)
	store := testStore(t, run)
	if err := os.WriteFile(run.SummaryPath(), []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, _ := store.Check(SummaryDoc)
	if result.State != StateInvalid {
		t.Fatalf("state = %s, want invalid", result.State)
	}
}

func TestWriteRawFileSkipsMetadata(t *testing.T) {
	run := testRun(t)
	store := testStore(t, run)

	if err := store.Write(StateJSON, []byte(`{"status":"running"}`), Metadata{}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	raw, err := os.ReadFile(run.StatePath())
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if string(raw) != `{"status":"running"}` {
		t.Fatalf("state content = %q, raw files must not be rewritten", raw)
	}
	result, _ := store.Check(StateJSON)
	if result.State != StateReady {
		t.Fatalf("state = %s, want ready", result.State)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	run := testRun(t)
	store := testStore(t, run)

	if err := store.Write(UploadedMarker, nil, Metadata{}); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	result, _ := store.Check(UploadedMarker)
	if result.State != StateReady {
		t.Fatalf("state = %s, want ready", result.State)
	}
}

func TestFrontMatterRoundTrip(t *testing.T) {
	meta := Metadata{
		ArtifactID: "run-summary",
		Producer:   "engine",
		Version:    "1",
		Run:        "run-test",
		Inputs:     []string{"run-state"},
		CreatedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Notes:      map[string]string{"jobs": "1"},
	}
	content, err := WriteFrontMatter(meta, []byte("body\n"))
	if err != nil {
		t.Fatalf("write frontmatter: %v", err)
	}
	parsed, body, err := ParseFrontMatter(content)
	if err != nil {
		t.Fatalf("parse frontmatter: %v", err)
	}
	if parsed.Producer != "engine" || parsed.Run != "run-test" {
		t.Fatalf("parsed = %+v", parsed)
	}
	if string(body) != "body\n" {
		t.Fatalf("body = %q", body)
	}
}
