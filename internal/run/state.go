package run

import (
	"time"

	"github.com/kingrea/gantry/internal/workflow"
)

// Status enumerates coarse run phases.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobStatus enumerates job-instance phases.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobBlocked   JobStatus = "blocked"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobSkipped   JobStatus = "skipped"
)

// Terminal reports whether the job instance has finished.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled, JobSkipped:
		return true
	}
	return false
}

// StepStatus enumerates step phases within a job.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
	StepSkipped   StepStatus = "skipped"
)

// EventRecord pins the triggering event's facts into the run state so the
// state file explains itself without the original delivery.
type EventRecord struct {
	DeliveryID   string   `json:"delivery_id,omitempty"`
	Kind         string   `json:"kind"`
	Action       string   `json:"action,omitempty"`
	Repo         string   `json:"repo,omitempty"`
	BaseRef      string   `json:"base_ref,omitempty"`
	HeadRef      string   `json:"head_ref,omitempty"`
	HeadSHA      string   `json:"head_sha,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

// WorkflowEvent converts the record into the shape trigger filters inspect.
func (e EventRecord) WorkflowEvent() workflow.Event {
	return workflow.Event{
		Kind:         e.Kind,
		Action:       e.Action,
		BaseRef:      e.BaseRef,
		HeadRef:      e.HeadRef,
		HeadSHA:      e.HeadSHA,
		ChangedFiles: cloneStrings(e.ChangedFiles),
	}
}

// State captures the persisted snapshot of one run: one workflow paired with
// one event. It is saved after every transition so a crashed or restarted
// process can still explain what happened.
type State struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Status   Status `json:"status"`
	// StatusReason explains non-succeeded conclusions.
	StatusReason string      `json:"status_reason,omitempty"`
	Event        EventRecord `json:"event"`
	// JobOrder lists instance IDs in expansion order; Jobs is keyed by the
	// same IDs.
	JobOrder  []string            `json:"job_order"`
	Jobs      map[string]JobState `json:"jobs"`
	StartedAt time.Time           `json:"started_at"`
	// FinishedAt stays zero until the run reaches a terminal status.
	FinishedAt time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobState records one job instance's progress.
type JobState struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	RunsOn string `json:"runs_on"`
	// Cell carries the matrix bindings this instance was materialized with.
	Cell       map[string]string `json:"cell,omitempty"`
	Status     JobStatus         `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Steps      []StepState       `json:"steps"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the job state.
func (j JobState) Clone() JobState {
	clone := j
	clone.Cell = cloneStringMap(j.Cell)
	if len(j.Steps) > 0 {
		clone.Steps = make([]StepState, len(j.Steps))
		copy(clone.Steps, j.Steps)
	}
	return clone
}

// StepState records one step's outcome. ExitCode is meaningful only once
// the step finished executing.
type StepState struct {
	Name       string     `json:"name"`
	Uses       string     `json:"uses,omitempty"`
	Run        string     `json:"run,omitempty"`
	Status     StepStatus `json:"status"`
	ExitCode   int        `json:"exit_code,omitempty"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the run state.
func (s State) Clone() State {
	clone := s
	clone.Event.ChangedFiles = cloneStrings(s.Event.ChangedFiles)
	clone.JobOrder = cloneStrings(s.JobOrder)
	if len(s.Jobs) > 0 {
		clone.Jobs = make(map[string]JobState, len(s.Jobs))
		for id, job := range s.Jobs {
			clone.Jobs[id] = job.Clone()
		}
	}
	return clone
}

// JobStates returns the job states in expansion order.
func (s State) JobStates() []JobState {
	out := make([]JobState, 0, len(s.JobOrder))
	for _, id := range s.JobOrder {
		if job, ok := s.Jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out
}

// Counts tallies job conclusions for summaries and status lines.
func (s State) Counts() (succeeded, failed, cancelled, skipped, active int) {
	for _, job := range s.Jobs {
		switch job.Status {
		case JobSucceeded:
			succeeded++
		case JobFailed:
			failed++
		case JobCancelled:
			cancelled++
		case JobSkipped:
			skipped++
		default:
			active++
		}
	}
	return
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
