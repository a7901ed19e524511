package condaenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/executor"
)

const (
	actionID      = "setup-conda"
	actionVersion = "1.0.0"
)

// CondaEnvAction provisions and activates a conda environment.
type CondaEnvAction struct {
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

// New constructs the action definition.
func New() *CondaEnvAction {
	info := action.Info{
		ID:          actionID,
		Name:        "Setup Conda Environment",
		Description: "Provisions a named conda environment and activates it for later steps.",
		Version:     actionVersion,
	}
	base := action.NewBase(info)
	return &CondaEnvAction{Base: &base}
}

// Run builds the environment and records the activation exports. A failing
// conda invocation fails the step with conda's own exit code; the test step
// never executes after a provisioning failure.
func (a *CondaEnvAction) Run(ctx context.Context, step *action.StepContext) (action.Result, error) {
	name := step.Param("activate-environment")
	if name == "" {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("condaenv: activate-environment is required")
	}
	file := step.Param("environment-file")
	pyver := step.Param("python-version")
	if file == "" && pyver == "" {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("condaenv: environment-file or python-version is required")
	}

	if file != "" {
		if _, err := readDescriptor(descriptorPath(step.Workspace, file)); err != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: 1},
				fmt.Errorf("condaenv: %w", err)
		}
		if result, failed, err := a.conda(ctx, step, "env", "update", "--name", name, "--file", file); failed {
			return result, err
		}
		if pyver != "" {
			if result, failed, err := a.conda(ctx, step, "install", "--yes", "--name", name, "python="+pyver); failed {
				return result, err
			}
		}
	} else {
		if result, failed, err := a.conda(ctx, step, "create", "--yes", "--name", name, "python="+pyver); failed {
			return result, err
		}
	}

	prefix, result, err := a.envPrefix(ctx, step, name)
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: 1}, err
	}
	if result.ExitCode != 0 {
		step.Logbook.Error("condaenv: conda info exited %d: %s", result.ExitCode, result.Stderr)
		return action.Result{
			Status:   action.StatusFailed,
			Message:  fmt.Sprintf("conda info exited %d", result.ExitCode),
			ExitCode: result.ExitCode,
		}, nil
	}

	step.ExportEnv("CONDA_DEFAULT_ENV", name)
	step.ExportEnv("CONDA_PREFIX", prefix)
	step.ExportEnv("PATH", activationPath(prefix, step.Env))
	if !step.BoolParam("auto-activate-base", true) {
		step.ExportEnv("CONDA_AUTO_ACTIVATE_BASE", "false")
	}

	return action.Result{
		Status:  action.StatusCompleted,
		Message: fmt.Sprintf("environment %s ready at %s", name, prefix),
	}, nil
}

// descriptor is the subset of an environment file the action inspects
// before handing the file to conda. Dependency entries stay loosely typed
// because pip blocks nest maps inside the list.
type descriptor struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

func descriptorPath(workspace, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(workspace, file)
}

// readDescriptor rejects a missing or malformed environment file before any
// conda process is spawned.
func readDescriptor(path string) (descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return descriptor{}, err
	}
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return descriptor{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// conda runs one conda command. failed is true when the caller should stop
// and return the accompanying result/error pair.
func (a *CondaEnvAction) conda(ctx context.Context, step *action.StepContext, args ...string) (action.Result, bool, error) {
	result, err := step.Executor.Execute(ctx, executor.Command{
		Binary: "conda",
		Args:   args,
		Dir:    step.Workspace,
		Env:    step.Env,
	})
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: 1}, true, err
	}
	if result.ExitCode != 0 {
		step.Logbook.Error("condaenv: conda %s exited %d: %s", strings.Join(args, " "), result.ExitCode, result.Stderr)
		return action.Result{
			Status:   action.StatusFailed,
			Message:  fmt.Sprintf("conda %s exited %d", args[0], result.ExitCode),
			ExitCode: result.ExitCode,
		}, true, nil
	}
	return action.Result{}, false, nil
}

// envPrefix resolves where conda placed the named environment.
func (a *CondaEnvAction) envPrefix(ctx context.Context, step *action.StepContext, name string) (string, *executor.Result, error) {
	result, err := step.Executor.Execute(ctx, executor.Command{
		Binary: "conda",
		Args:   []string{"info", "--base"},
		Dir:    step.Workspace,
		Env:    step.Env,
	})
	if err != nil {
		return "", nil, err
	}
	base := strings.TrimSpace(result.Stdout)
	return filepath.Join(base, "envs", name), result, nil
}

// activationPath prepends the environment's binary directories to the
// step's PATH so provisioned tools shadow the system ones.
func activationPath(prefix string, env []string) string {
	current := action.EnvValue(env, "PATH")
	if current == "" {
		current = os.Getenv("PATH")
	}
	entries := []string{filepath.Join(prefix, "bin"), prefix}
	if current != "" {
		entries = append(entries, current)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}
