// Package action defines the contract for uses: step implementations. Each
// action is a reusable unit a workflow step invokes by ID, given resolved
// parameters and the job's execution context.
package action

import (
	"context"
	"fmt"

	"github.com/kingrea/gantry/internal/artifact"
)

// Info describes an action's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("action: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("action: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("action: version is required for %s", i.ID)
	}
	return nil
}

// Result captures the outcome of an action execution.
type Result struct {
	Status  Status
	Message string
	// ExitCode carries the exit code of the last command the action ran.
	// Pure-Go actions report zero on success and nonzero on failure.
	ExitCode int
}

// Status enumerates action run outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNoOp      Status = "no-op"
	StatusFailed    Status = "failed"
)

// Action is implemented by every uses: step target. Run returns an error
// only for infrastructure failures; a command that ran and failed yields a
// StatusFailed result with its exit code.
type Action interface {
	Info() Info
	Outputs() []artifact.ArtifactRef
	Run(ctx context.Context, step *StepContext) (Result, error)
}
