package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Two expression forms exist: ${{ matrix.KEY }}, substituted when a job
// instance is materialized from its cell, and ${{ secrets.NAME }}, resolved
// at job start. Anything else inside ${{ }} is rejected.

var exprPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z0-9_.-]+)\s*\}\}`)

// ExpandMatrix substitutes matrix references in input using the cell's
// bindings. Secret references pass through untouched for later resolution.
// Unknown axes and unsupported scopes are errors.
func ExpandMatrix(input string, cell Cell) (string, error) {
	var expandErr error
	out := exprPattern.ReplaceAllStringFunc(input, func(match string) string {
		scope, key := splitExpr(match)
		switch scope {
		case "matrix":
			value, ok := cell[key]
			if !ok && expandErr == nil {
				expandErr = fmt.Errorf("workflow: expression references unknown matrix axis %s", key)
			}
			return value
		case "secrets":
			return match
		default:
			if expandErr == nil {
				expandErr = fmt.Errorf("workflow: unsupported expression scope %s", scope)
			}
			return match
		}
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// SecretRef reports whether value consists of exactly one secret reference
// and returns the secret name. Values like "${{ secrets.AWS_REGION }}" bind
// the variable only when the secret exists; everything else substitutes
// inline.
func SecretRef(value string) (string, bool) {
	match := exprPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil || match[0] != strings.TrimSpace(value) {
		return "", false
	}
	if match[1] != "secrets" {
		return "", false
	}
	return match[2], true
}

// ExpandSecrets substitutes secret references via resolve; unresolved
// references become empty strings. Callers that need unset-instead-of-empty
// semantics check SecretRef first.
func ExpandSecrets(input string, resolve func(string) (string, bool)) string {
	return exprPattern.ReplaceAllStringFunc(input, func(match string) string {
		scope, key := splitExpr(match)
		if scope != "secrets" {
			return match
		}
		value, _ := resolve(key)
		return value
	})
}

// InstantiateJob materializes a job for one matrix cell: every matrix
// reference in runs-on, names, env values, with values and run commands is
// replaced by the cell's binding.
func InstantiateJob(job Job, cell Cell) (Job, error) {
	inst := job.Clone()
	var err error
	if inst.RunsOn, err = ExpandMatrix(inst.RunsOn, cell); err != nil {
		return Job{}, err
	}
	if inst.Name, err = ExpandMatrix(inst.Name, cell); err != nil {
		return Job{}, err
	}
	if inst.Env, err = expandMatrixMap(inst.Env, cell); err != nil {
		return Job{}, err
	}
	for i, step := range inst.Steps {
		if step.Run, err = ExpandMatrix(step.Run, cell); err != nil {
			return Job{}, err
		}
		if step.Name, err = ExpandMatrix(step.Name, cell); err != nil {
			return Job{}, err
		}
		if step.With, err = expandMatrixMap(step.With, cell); err != nil {
			return Job{}, err
		}
		if step.Env, err = expandMatrixMap(step.Env, cell); err != nil {
			return Job{}, err
		}
		inst.Steps[i] = step
	}
	return inst, nil
}

// RunnerLabels returns every distinct runs-on label the definition can
// produce once matrix references are substituted, sorted. Callers check the
// labels against the runner catalog before accepting a definition.
func (def Definition) RunnerLabels() ([]string, error) {
	set := map[string]struct{}{}
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for _, cell := range job.Strategy.Matrix.Expand() {
			label, err := ExpandMatrix(job.RunsOn, cell)
			if err != nil {
				return nil, fmt.Errorf("workflow: job %s: %w", id, err)
			}
			set[label] = struct{}{}
		}
	}
	labels := make([]string, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

func expandMatrixMap(values StringMap, cell Cell) (StringMap, error) {
	if len(values) == 0 {
		return values, nil
	}
	out := make(StringMap, len(values))
	for key, value := range values {
		expanded, err := ExpandMatrix(value, cell)
		if err != nil {
			return nil, err
		}
		out[key] = expanded
	}
	return out, nil
}

func splitExpr(match string) (scope, key string) {
	groups := exprPattern.FindStringSubmatch(match)
	if len(groups) != 3 {
		return "", ""
	}
	return groups[1], groups[2]
}
