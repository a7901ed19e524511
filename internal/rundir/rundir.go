// internal/rundir/rundir.go
//
// Defines the run directory structure and file constants.
// Every run gets its own folder under .gantry/runs/ holding the state
// document, job logs, and the checked-out workspace.

package rundir

import (
	"os"
	"path/filepath"
	"strings"
)

// Directory names within .gantry/
const (
	RunsDir      = "runs"
	WorkflowsDir = "workflows"
	ActionsDir   = "actions"
	LogsDir      = "logs"
)

// Directory names within one run folder
const (
	JobLogsDir   = "logs"
	WorkspaceDir = "workspace"
	ArtifactsDir = "artifacts"
)

// File names for run artifacts
const (
	FileState   = "state.json"
	FileLogbook = "run.log"
	FileSummary = "summary.md"
)

// Marker files (empty files that signal run milestones)
const (
	MarkerUploaded = ".uploaded"
)

// Project navigates the .gantry directory of one project.
type Project struct {
	// Base path to the .gantry directory
	gantryDir string
}

// NewProject creates a Project manager rooted at the given .gantry path.
func NewProject(gantryDir string) *Project {
	return &Project{gantryDir: gantryDir}
}

// Dir returns the .gantry directory path.
func (p *Project) Dir() string {
	return p.gantryDir
}

// WorkflowsDir returns the directory holding workflow documents.
func (p *Project) WorkflowsDir() string {
	return filepath.Join(p.gantryDir, WorkflowsDir)
}

// RunsDir returns the directory holding per-run folders.
func (p *Project) RunsDir() string {
	return filepath.Join(p.gantryDir, RunsDir)
}

// ActionsDir returns the directory holding plugin action definitions.
func (p *Project) ActionsDir() string {
	return filepath.Join(p.gantryDir, ActionsDir)
}

// LogsDir returns the directory for runner-level logs.
func (p *Project) LogsDir() string {
	return filepath.Join(p.gantryDir, LogsDir)
}

// SecretsPath returns the path to the project secrets file.
func (p *Project) SecretsPath() string {
	return filepath.Join(p.gantryDir, "secrets.yml")
}

// Run returns the manager for one run folder.
func (p *Project) Run(runID string) *Run {
	return &Run{id: runID, dir: filepath.Join(p.RunsDir(), runID)}
}

// RunIDs lists the run folders currently on disk.
func (p *Project) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(p.RunsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Initialize creates the .gantry directory structure.
func (p *Project) Initialize() error {
	dirs := []string{
		p.Dir(),
		p.WorkflowsDir(),
		p.RunsDir(),
		p.ActionsDir(),
		p.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// Run navigates one run's folder.
type Run struct {
	id  string
	dir string
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Dir returns the run folder path.
func (r *Run) Dir() string {
	return r.dir
}

// StatePath returns the path to state.json.
func (r *Run) StatePath() string {
	return filepath.Join(r.dir, FileState)
}

// LogbookPath returns the path to the run's progress log.
func (r *Run) LogbookPath() string {
	return filepath.Join(r.dir, FileLogbook)
}

// SummaryPath returns the path to summary.md.
func (r *Run) SummaryPath() string {
	return filepath.Join(r.dir, FileSummary)
}

// JobLogsDir returns the directory holding per-job log files.
func (r *Run) JobLogsDir() string {
	return filepath.Join(r.dir, JobLogsDir)
}

// JobLogPath returns the log file path for one job instance. Instance IDs
// carry matrix labels ("test (windows-latest, 3.10.*)"), so the name is
// flattened to filesystem-safe characters first.
func (r *Run) JobLogPath(instanceID string) string {
	return filepath.Join(r.JobLogsDir(), flattenName(instanceID)+".log")
}

// WorkspacePath returns the directory the repository is checked out into.
func (r *Run) WorkspacePath() string {
	return filepath.Join(r.dir, WorkspaceDir)
}

// ArtifactsPath returns the directory holding files steps upload.
func (r *Run) ArtifactsPath() string {
	return filepath.Join(r.dir, ArtifactsDir)
}

// UploadedMarkerPath returns the marker written after an object-store mirror.
func (r *Run) UploadedMarkerPath() string {
	return filepath.Join(r.dir, MarkerUploaded)
}

// Initialize creates the run folder structure.
func (r *Run) Initialize() error {
	dirs := []string{
		r.Dir(),
		r.JobLogsDir(),
		r.WorkspacePath(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// WriteMarker creates an empty marker file in the run folder.
func (r *Run) WriteMarker(marker string) error {
	return os.WriteFile(filepath.Join(r.dir, marker), []byte{}, 0644)
}

// HasMarker checks if a marker file exists in the run folder.
func (r *Run) HasMarker(marker string) bool {
	info, err := os.Stat(filepath.Join(r.dir, marker))
	return err == nil && !info.IsDir()
}

// Reset removes the entire run folder (for starting fresh).
func (r *Run) Reset() error {
	return os.RemoveAll(r.dir)
}

// flattenName rewrites an instance ID into a safe file name: every run of
// characters outside [A-Za-z0-9._-] collapses to a single dash.
func flattenName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_':
			b.WriteRune(c)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-.")
}
