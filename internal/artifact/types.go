// Package artifact defines the filesystem-level contracts for the outputs a
// run produces. Each artifact has a stable identifier, kind, and a resolver
// that maps to the actual path within the run's folder under .gantry/runs/.

package artifact

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kingrea/gantry/internal/rundir"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument represents a markdown-like text document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON represents a JSON document enriched with a _gantry metadata block.
	KindJSON Kind = "json"
	// KindFile represents an opaque file with no metadata demands.
	KindFile Kind = "file"
	// KindMarker represents an empty file used as a marker/flag.
	KindMarker Kind = "marker"
	// KindDirectory represents a directory that must exist.
	KindDirectory Kind = "directory"
)

// PathResolver returns the fully-qualified path to an artifact for one run.
type PathResolver func(*rundir.Run) string

// ArtifactRef declares a stable identifier and metadata for an artifact.
type ArtifactRef struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	Optional    bool
	path        PathResolver
}

// Path resolves the artifact path for the provided run.
func (r ArtifactRef) Path(run *rundir.Run) string {
	if run == nullRun || r.path == nil {
		return ""
	}
	return filepath.Clean(r.path(run))
}

// Validate ensures the reference is well-formed.
func (r ArtifactRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact: kind is required for %s", r.ID)
	}
	if r.path == nil {
		return fmt.Errorf("artifact: path resolver missing for %s", r.ID)
	}
	return nil
}

var nullRun *rundir.Run

// Metadata captures provenance stored inside artifact frontmatter or metadata blocks.
type Metadata struct {
	ArtifactID string
	Producer   string
	Version    string
	Run        string
	Inputs     []string
	CreatedAt  time.Time
	Checksum   string
	Notes      map[string]string
}

// WithDefaults ensures metadata carries the artifact ID and timestamps.
func (m Metadata) WithDefaults(ref ArtifactRef, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the artifact contract.
func (m Metadata) ValidateFor(ref ArtifactRef) error {
	if m.ArtifactID != ref.ID {
		return fmt.Errorf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.Producer == "" {
		return fmt.Errorf("artifact: producer is required for %s", ref.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("artifact: version is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      ArtifactRef
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

// helper to register global references
func register(ref ArtifactRef) ArtifactRef {
	if refs == nil {
		refs = map[string]ArtifactRef{}
	}
	refs[ref.ID] = ref
	return ref
}

var refs map[string]ArtifactRef

// Lookup returns a registered artifact reference by ID.
func Lookup(id string) (ArtifactRef, bool) {
	ref, ok := refs[id]
	return ref, ok
}

// newDocRef creates a markdown document reference helper.
func newDocRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindDocument,
		path:        resolver,
	}
}

// newFileRef creates an opaque file reference helper.
func newFileRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindFile,
		path:        resolver,
	}
}

// newMarkerRef creates a marker file reference helper.
func newMarkerRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindMarker,
		path:        resolver,
	}
}

// newDirectoryRef creates a directory reference helper.
func newDirectoryRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindDirectory,
		path:        resolver,
	}
}

// Canonical artifact references for a run.
var (
	SummaryDoc = register(newDocRef("run-summary", "Run Summary", "summary.md describing the outcome of every job instance", func(r *rundir.Run) string { return r.SummaryPath() }))
	StateJSON  = register(newFileRef("run-state", "Run State", "state.json snapshot persisted after every transition", func(r *rundir.Run) string { return r.StatePath() }))
	RunLogbook = register(newFileRef("run-logbook", "Run Logbook", "run.log with the engine's progress timeline", func(r *rundir.Run) string { return r.LogbookPath() }))

	JobLogsDirectory   = register(newDirectoryRef("job-logs", "Job Logs Directory", "logs folder holding one file per job instance", func(r *rundir.Run) string { return r.JobLogsDir() }))
	WorkspaceDirectory = register(newDirectoryRef("workspace", "Workspace", "workspace folder the repository is checked out into", func(r *rundir.Run) string { return r.WorkspacePath() }))
	UploadsDirectory   = register(newDirectoryRef("uploads", "Uploaded Artifacts Directory", "artifacts folder holding files steps upload", func(r *rundir.Run) string { return r.ArtifactsPath() }))

	UploadedMarker = register(newMarkerRef("uploaded", "Object Store Uploaded Marker", "Marker written after the run folder is mirrored to the object store", func(r *rundir.Run) string { return r.UploadedMarkerPath() }))
)
