// Package checkout implements the builtin checkout action. It materializes
// the repository under test into the job workspace so later steps can run
// against the pull request's code.
package checkout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/artifact"
	"github.com/kingrea/gantry/internal/executor"
)

const (
	actionID      = "checkout"
	actionVersion = "1.0.0"
)

// CheckoutAction clones (or refreshes) the repository and checks out the
// ref the triggering event names.
type CheckoutAction struct {
	*action.Base
}

// Register installs the action factory into the registry.
func Register(reg *action.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(actionID, func(action.Config) (action.Action, error) {
		return New(), nil
	})
}

// New constructs the action definition with its output contract.
func New() *CheckoutAction {
	info := action.Info{
		ID:          actionID,
		Name:        "Checkout",
		Description: "Materializes the repository into the job workspace.",
		Version:     actionVersion,
	}
	base := action.NewBase(info)
	base.SetOutputs(artifact.WorkspaceDirectory)
	return &CheckoutAction{Base: &base}
}

// Run clones the repository on a fresh workspace or fetches on a reused
// one, then checks out the requested ref. The repository and ref default to
// the values the engine injects from the triggering event.
func (a *CheckoutAction) Run(ctx context.Context, step *action.StepContext) (action.Result, error) {
	repo := step.Param("repository")
	if repo == "" {
		repo = action.EnvValue(step.Env, "GANTRY_REPOSITORY")
	}
	if repo == "" {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("checkout: no repository configured and GANTRY_REPOSITORY is unset")
	}
	ref := step.Param("ref")
	if ref == "" {
		ref = action.EnvValue(step.Env, "GANTRY_SHA")
	}
	if ref == "" {
		ref = action.EnvValue(step.Env, "GANTRY_HEAD_REF")
	}

	var (
		result *executor.Result
		err    error
	)
	if hasClone(step.Workspace) {
		result, err = a.git(ctx, step, "fetch", "--all", "--tags")
	} else {
		result, err = a.git(ctx, step, "clone", repo, ".")
	}
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: 1}, err
	}
	if result.ExitCode != 0 {
		step.Logbook.Error("checkout: git exited %d: %s", result.ExitCode, result.Stderr)
		return action.Result{
			Status:   action.StatusFailed,
			Message:  fmt.Sprintf("git exited %d", result.ExitCode),
			ExitCode: result.ExitCode,
		}, nil
	}

	if ref != "" {
		result, err = a.git(ctx, step, "checkout", "--force", ref)
		if err != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: 1}, err
		}
		if result.ExitCode != 0 {
			step.Logbook.Error("checkout: git checkout %s exited %d: %s", ref, result.ExitCode, result.Stderr)
			return action.Result{
				Status:   action.StatusFailed,
				Message:  fmt.Sprintf("git checkout %s exited %d", ref, result.ExitCode),
				ExitCode: result.ExitCode,
			}, nil
		}
	}

	message := "workspace ready"
	if ref != "" {
		message = fmt.Sprintf("checked out %s", ref)
	}
	return action.Result{Status: action.StatusCompleted, Message: message}, nil
}

func (a *CheckoutAction) git(ctx context.Context, step *action.StepContext, args ...string) (*executor.Result, error) {
	return step.Executor.Execute(ctx, executor.Command{
		Binary: "git",
		Args:   args,
		Dir:    step.Workspace,
		Env:    step.Env,
	})
}

func hasClone(workspace string) bool {
	info, err := os.Stat(filepath.Join(workspace, ".git"))
	return err == nil && info.IsDir()
}
