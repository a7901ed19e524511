package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/artifact"
	"github.com/kingrea/gantry/internal/executor"
)

// CommandAction adapts a plugin definition into a registry action. The
// declared binary, arguments, directory, and environment are template
// expressions rendered against the step's parameters before the command goes
// to the job executor.
type CommandAction struct {
	base action.Base
	def  ActionDefinition
}

// NewCommandAction validates the definition and wires its artifact bindings.
func NewCommandAction(def ActionDefinition) (*CommandAction, error) {
	normalized := def.Normalized()
	if err := normalized.Validate(); err != nil {
		return nil, err
	}
	info := action.Info{
		ID:          normalized.ID,
		Name:        normalized.displayName(),
		Description: normalized.Description,
		Version:     normalized.Version,
	}
	base := action.NewBase(info)
	if len(normalized.Outputs) > 0 {
		refs := make([]artifact.ArtifactRef, 0, len(normalized.Outputs))
		for _, binding := range normalized.Outputs {
			ref, err := binding.Resolve()
			if err != nil {
				return nil, fmt.Errorf("plugin %s: %w", normalized.ID, err)
			}
			refs = append(refs, ref)
		}
		base.SetOutputs(refs...)
	}
	return &CommandAction{base: base, def: normalized}, nil
}

// Info returns the action identity taken from the plugin definition.
func (a *CommandAction) Info() action.Info { return a.base.Info() }

// Outputs returns the artifacts the plugin declares it produces.
func (a *CommandAction) Outputs() []artifact.ArtifactRef { return a.base.Outputs() }

// Run renders the command templates and executes the result through the
// job's executor. Template failures and executor infrastructure failures
// return errors; a command that ran and exited nonzero yields a failed
// result carrying its exit code.
func (a *CommandAction) Run(ctx context.Context, step *action.StepContext) (action.Result, error) {
	data := a.templateData(step)

	binary, err := renderTemplate("binary", a.def.Command.Binary, data)
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: -1}, err
	}
	args := make([]string, 0, len(a.def.Command.Args))
	for i, raw := range a.def.Command.Args {
		rendered, err := renderTemplate(fmt.Sprintf("arg[%d]", i), raw, data)
		if err != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: -1}, err
		}
		args = append(args, rendered)
	}
	dir, err := renderTemplate("dir", a.def.Command.Dir, data)
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: -1}, err
	}

	env := append([]string{}, step.Env...)
	for _, key := range sortedKeys(a.def.Command.Env) {
		rendered, err := renderTemplate("env."+key, a.def.Command.Env[key], data)
		if err != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: -1}, err
		}
		env = append(env, key+"="+rendered)
	}

	cmd := executor.Command{
		Binary: binary,
		Args:   args,
		Dir:    dir,
		Env:    env,
	}
	if a.def.Command.TimeoutSeconds > 0 {
		cmd.Limits.Timeout = time.Duration(a.def.Command.TimeoutSeconds) * time.Second
	}

	if step.Logbook != nil {
		step.Logbook.Info("plugin %s: %s", a.def.ID, cmd.String())
	}
	result, err := step.Executor.Execute(ctx, cmd)
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: -1},
			fmt.Errorf("plugin %s: %w", a.def.ID, err)
	}
	if result.Killed {
		return action.Result{
			Status:   action.StatusFailed,
			Message:  fmt.Sprintf("plugin %s: %s", a.def.ID, result.KillReason),
			ExitCode: result.ExitCode,
		}, nil
	}
	if result.ExitCode != 0 {
		return action.Result{
			Status:   action.StatusFailed,
			Message:  strings.TrimSpace(result.Stderr),
			ExitCode: result.ExitCode,
		}, nil
	}
	return action.Result{Status: action.StatusCompleted, ExitCode: 0}, nil
}

// templateData builds the render context. Step parameters overlay the
// definition's declared defaults.
func (a *CommandAction) templateData(step *action.StepContext) map[string]any {
	params := make(map[string]string, len(a.def.Params)+len(step.With))
	for key, value := range a.def.Params {
		params[key] = value
	}
	for key, value := range step.With {
		params[key] = value
	}
	env := map[string]string{}
	for _, entry := range step.Env {
		if idx := strings.IndexByte(entry, '='); idx > 0 {
			env[entry[:idx]] = entry[idx+1:]
		}
	}
	return map[string]any{
		"Params":    params,
		"Env":       env,
		"Workspace": step.Workspace,
		"RunID":     runID(step),
	}
}

func runID(step *action.StepContext) string {
	if step.Run == nil {
		return ""
	}
	return step.Run.ID()
}

func renderTemplate(name, raw string, data map[string]any) (string, error) {
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("plugin template %s: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("plugin template %s: %w", name, err)
	}
	return out.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
