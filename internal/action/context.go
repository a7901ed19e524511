package action

import (
	"strconv"
	"strings"

	"github.com/kingrea/gantry/internal/artifact"
	"github.com/kingrea/gantry/internal/executor"
	"github.com/kingrea/gantry/internal/logbook"
	"github.com/kingrea/gantry/internal/rundir"
)

// StepContext carries shared runtime dependencies into every action.
type StepContext struct {
	Run       *rundir.Run
	Workspace string
	Executor  executor.Executor
	With      map[string]string
	Env       []string
	Logbook   *logbook.Logbook
	Artifacts *artifact.Store

	// exports collects environment mutations an action publishes for the
	// steps that follow it. Clones share the same map so the engine sees
	// everything regardless of which view the action wrote through.
	exports map[string]string
}

// NewContext builds a StepContext with a fresh artifact store.
func NewContext(run *rundir.Run, exec executor.Executor, book *logbook.Logbook) *StepContext {
	return &StepContext{
		Run:       run,
		Workspace: run.WorkspacePath(),
		Executor:  exec,
		Logbook:   book,
		Artifacts: artifact.NewStore(run),
		exports:   map[string]string{},
	}
}

// WithParams returns a view carrying the step's resolved with: parameters.
func (sc *StepContext) WithParams(with map[string]string) *StepContext {
	clone := *sc
	clone.With = with
	return &clone
}

// WithEnv returns a view carrying the step's layered environment.
func (sc *StepContext) WithEnv(env []string) *StepContext {
	clone := *sc
	clone.Env = env
	return &clone
}

// ExportEnv publishes an environment variable for subsequent steps in the
// same job.
func (sc *StepContext) ExportEnv(key, value string) {
	if sc.exports == nil {
		sc.exports = map[string]string{}
	}
	sc.exports[key] = value
}

// Exports returns the environment mutations recorded so far.
func (sc *StepContext) Exports() map[string]string {
	out := make(map[string]string, len(sc.exports))
	for k, v := range sc.exports {
		out[k] = v
	}
	return out
}

// Param returns a with: parameter, trimmed.
func (sc *StepContext) Param(key string) string {
	return strings.TrimSpace(sc.With[key])
}

// BoolParam parses a with: parameter as a boolean, falling back to def when
// the parameter is absent or unparseable.
func (sc *StepContext) BoolParam(key string, def bool) bool {
	raw := sc.Param(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}

// EnvValue extracts a variable from a KEY=VALUE environment list. Later
// entries win, matching how process environments resolve duplicates.
func EnvValue(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):]
		}
	}
	return ""
}
