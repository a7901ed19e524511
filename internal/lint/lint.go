// Package lint validates workflow files beyond schema parsing: runner labels
// must exist in the project catalog, uses: references must resolve to known
// actions, and matrix expressions must expand cleanly.
package lint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/workflow"
	"github.com/kingrea/gantry/internal/workflow/plan"
)

// Report captures validation results for one workflow file.
type Report struct {
	Path     string
	Workflow string
	Errors   []error
}

// IsValid reports whether the validation passed.
func (r *Report) IsValid() bool {
	return r != nil && len(r.Errors) == 0
}

// Linter checks workflow definitions against the project's runner catalog and
// action registry.
type Linter struct {
	runners  map[string]struct{}
	registry *action.Registry
}

// New builds a linter for the given project. Either argument may be nil, in
// which case the corresponding checks are skipped.
func New(cfg *config.Config, registry *action.Registry) *Linter {
	l := &Linter{registry: registry}
	if cfg != nil {
		l.runners = map[string]struct{}{}
		for _, label := range cfg.RunnerLabels() {
			l.runners[label] = struct{}{}
		}
	}
	return l
}

// CheckFile reads and validates one workflow file. The error return covers
// only unreadable files; parse and semantic problems land in the report.
func (l *Linter) CheckFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lint: read %s: %w", path, err)
	}
	report := &Report{Path: path}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report, nil
	}
	report.Workflow = def.Name
	report.Errors = l.CheckDefinition(def)
	return report, nil
}

// CheckDir validates every workflow file in a directory, sorted by name.
func (l *Linter) CheckDir(dir string) ([]*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lint: read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yml", ".yaml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	reports := make([]*Report, 0, len(names))
	for _, name := range names {
		report, err := l.CheckFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CheckDefinition validates a parsed definition.
func (l *Linter) CheckDefinition(def workflow.Definition) []error {
	var errs []error
	if err := def.Validate(); err != nil {
		// schema problems make the remaining checks unreliable
		return append(errs, err)
	}

	// expanding the plan surfaces bad matrix references and needs cycles
	if _, err := plan.New(def); err != nil {
		errs = append(errs, err)
	}

	labels, err := def.RunnerLabels()
	if err != nil {
		errs = append(errs, err)
	} else if l.runners != nil {
		for _, label := range labels {
			if _, ok := l.runners[label]; !ok {
				errs = append(errs, fmt.Errorf("runs-on %q matches no configured runner", label))
			}
		}
	}

	if l.registry != nil {
		for _, jobID := range def.JobIDs() {
			job := def.Jobs[jobID]
			for index, step := range job.Steps {
				uses := strings.TrimSpace(step.Uses)
				if uses == "" {
					continue
				}
				if !l.registry.Known(uses) {
					errs = append(errs, fmt.Errorf("jobs.%s.steps[%d]: unknown action %q", jobID, index, uses))
				}
			}
		}
	}
	return errs
}
