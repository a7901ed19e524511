package workflow

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition declares a CI workflow: the events that admit it and the jobs it
// runs when admitted.
type Definition struct {
	Name string         `json:"name" yaml:"name"`
	On   Triggers       `json:"on" yaml:"on"`
	Env  StringMap      `json:"env,omitempty" yaml:"env,omitempty"`
	Jobs map[string]Job `json:"jobs" yaml:"jobs"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := Definition{
		Name: def.Name,
		On:   def.On.Clone(),
		Env:  def.Env.Clone(),
	}
	if len(def.Jobs) > 0 {
		clone.Jobs = make(map[string]Job, len(def.Jobs))
		for id, job := range def.Jobs {
			clone.Jobs[id] = job.Clone()
		}
	}
	return clone
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.Name == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if err := def.On.validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", def.Name, err)
	}
	if len(def.Jobs) == 0 {
		return fmt.Errorf("workflow %s: at least one job is required", def.Name)
	}
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		if err := checkJobID(id); err != nil {
			return fmt.Errorf("workflow %s: %w", def.Name, err)
		}
		if err := job.Validate(); err != nil {
			return fmt.Errorf("workflow %s job %s: %w", def.Name, id, err)
		}
		for _, dep := range job.Needs {
			if dep == id {
				return fmt.Errorf("workflow %s: job %s needs itself", def.Name, id)
			}
			if _, ok := def.Jobs[dep]; !ok {
				return fmt.Errorf("workflow %s: job %s needs unknown job %s", def.Name, id, dep)
			}
		}
	}
	if cycle := def.findCycle(); cycle != "" {
		return fmt.Errorf("workflow %s: needs cycle involving job %s", def.Name, cycle)
	}
	return nil
}

// findCycle returns a job id participating in a needs cycle, or empty.
func (def Definition) findCycle() string {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int, len(def.Jobs))
	var visit func(string) string
	visit = func(id string) string {
		switch marks[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		marks[id] = visiting
		for _, dep := range def.Jobs[id].Needs {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		marks[id] = done
		return ""
	}
	for _, id := range def.JobIDs() {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}

// Normalized clones the definition, trims names and labels, sorts and dedupes
// job dependencies, and validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	clone.On = clone.On.normalized()
	for id, job := range clone.Jobs {
		clone.Jobs[id] = job.normalized()
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// JobIDs returns the job identifiers in sorted order. Job maps carry no
// declaration order, so every consumer iterates this way for determinism.
func (def Definition) JobIDs() []string {
	ids := make([]string, 0, len(def.Jobs))
	for id := range def.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Triggers declares which event kinds admit the workflow and under what
// filters. Only pull_request is supported.
type Triggers struct {
	PullRequest *PullRequestRule `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
}

// Clone returns a deep copy of the trigger set.
func (t Triggers) Clone() Triggers {
	clone := Triggers{}
	if t.PullRequest != nil {
		rule := t.PullRequest.Clone()
		clone.PullRequest = &rule
	}
	return clone
}

func (t Triggers) normalized() Triggers {
	clone := t.Clone()
	if clone.PullRequest != nil {
		rule := clone.PullRequest.normalized()
		clone.PullRequest = &rule
	}
	return clone
}

func (t Triggers) validate() error {
	if t.PullRequest == nil {
		return fmt.Errorf("workflow: no trigger declared")
	}
	return t.PullRequest.validate()
}

// UnmarshalYAML accepts the three shapes a trigger declaration takes: a bare
// scalar (`on: pull_request`), a sequence (`on: [pull_request]`), or a
// mapping with per-event filters. A null filter body subscribes with no
// filters.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return t.subscribe(value.Value, nil)
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if err := t.subscribe(item.Value, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := t.subscribe(value.Content[i].Value, value.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("workflow: on must be a scalar, sequence or mapping, got %s", nodeKind(value))
	}
}

func (t *Triggers) subscribe(kind string, filters *yaml.Node) error {
	if kind != EventPullRequest {
		return fmt.Errorf("workflow: unsupported trigger %s", kind)
	}
	rule := PullRequestRule{}
	if filters != nil && filters.Kind == yaml.MappingNode {
		if err := filters.Decode(&rule); err != nil {
			return fmt.Errorf("workflow: decode %s filters: %w", kind, err)
		}
	}
	t.PullRequest = &rule
	return nil
}

// PullRequestRule filters pull-request events by target branch and by the
// paths the pull request touches. An empty branch list admits any branch; an
// empty path list admits any changed file set.
type PullRequestRule struct {
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	Paths    []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r PullRequestRule) Clone() PullRequestRule {
	return PullRequestRule{
		Branches: cloneStringSlice(r.Branches),
		Paths:    cloneStringSlice(r.Paths),
	}
}

func (r PullRequestRule) normalized() PullRequestRule {
	clone := r.Clone()
	clone.Branches = trimPatterns(clone.Branches)
	clone.Paths = trimPatterns(clone.Paths)
	return clone
}

func (r PullRequestRule) validate() error {
	for _, pattern := range r.Branches {
		if err := checkPattern(pattern); err != nil {
			return fmt.Errorf("workflow: branch filter %q: %w", pattern, err)
		}
	}
	for _, pattern := range r.Paths {
		if err := checkPattern(pattern); err != nil {
			return fmt.Errorf("workflow: path filter %q: %w", pattern, err)
		}
	}
	return nil
}

// Job declares one unit of work: a runner label, an optional matrix strategy,
// and an ordered list of steps executed strictly in sequence.
type Job struct {
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	RunsOn   string     `json:"runs-on" yaml:"runs-on"`
	Needs    StringList `json:"needs,omitempty" yaml:"needs,omitempty"`
	Strategy Strategy   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Env      StringMap  `json:"env,omitempty" yaml:"env,omitempty"`
	Steps    []Step     `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	clone := Job{
		Name:     j.Name,
		RunsOn:   j.RunsOn,
		Needs:    StringList(cloneStringSlice(j.Needs)),
		Strategy: j.Strategy.Clone(),
		Env:      j.Env.Clone(),
	}
	if len(j.Steps) > 0 {
		clone.Steps = make([]Step, len(j.Steps))
		for i, step := range j.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}

func (j Job) normalized() Job {
	clone := j.Clone()
	clone.RunsOn = strings.TrimSpace(clone.RunsOn)
	clone.Needs = StringList(sortedUnique(clone.Needs))
	clone.Strategy = clone.Strategy.normalized()
	return clone
}

// Validate ensures the job is runnable as declared.
func (j Job) Validate() error {
	if j.RunsOn == "" {
		return fmt.Errorf("runs-on is required")
	}
	if len(j.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if err := j.Strategy.validate(); err != nil {
		return err
	}
	for idx, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step[%d]: %w", idx, err)
		}
	}
	return nil
}

// Strategy controls matrix expansion and failure policy for a job's
// instances.
type Strategy struct {
	// FailFast defaults to true when unset: the first failing instance
	// cancels its siblings.
	FailFast    *bool  `json:"fail-fast,omitempty" yaml:"fail-fast,omitempty"`
	Matrix      Matrix `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	MaxParallel int    `json:"max-parallel,omitempty" yaml:"max-parallel,omitempty"`
}

// Clone returns a deep copy of the strategy.
func (s Strategy) Clone() Strategy {
	clone := Strategy{
		Matrix:      s.Matrix.Clone(),
		MaxParallel: s.MaxParallel,
	}
	if s.FailFast != nil {
		v := *s.FailFast
		clone.FailFast = &v
	}
	return clone
}

func (s Strategy) normalized() Strategy {
	clone := s.Clone()
	if clone.MaxParallel < 0 {
		clone.MaxParallel = 0
	}
	return clone
}

func (s Strategy) validate() error {
	if s.MaxParallel < 0 {
		return fmt.Errorf("strategy: max-parallel must be >= 0")
	}
	return s.Matrix.validate()
}

// FailFastEnabled reports the effective fail-fast policy.
func (s Strategy) FailFastEnabled() bool {
	if s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Step declares one action invocation (uses) or one shell command (run).
// Exactly one of the two must be set; there is no conditional execution.
type Step struct {
	ID   string    `json:"id,omitempty" yaml:"id,omitempty"`
	Name string    `json:"name,omitempty" yaml:"name,omitempty"`
	Uses string    `json:"uses,omitempty" yaml:"uses,omitempty"`
	Run  string    `json:"run,omitempty" yaml:"run,omitempty"`
	With StringMap `json:"with,omitempty" yaml:"with,omitempty"`
	Env  StringMap `json:"env,omitempty" yaml:"env,omitempty"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	return Step{
		ID:   s.ID,
		Name: s.Name,
		Uses: s.Uses,
		Run:  s.Run,
		With: s.With.Clone(),
		Env:  s.Env.Clone(),
	}
}

// Validate ensures the step declares exactly one of uses/run.
func (s Step) Validate() error {
	uses := strings.TrimSpace(s.Uses)
	run := strings.TrimSpace(s.Run)
	if uses == "" && run == "" {
		return fmt.Errorf("one of uses or run is required")
	}
	if uses != "" && run != "" {
		return fmt.Errorf("uses and run are mutually exclusive")
	}
	return nil
}

// DisplayName returns the label used in logs and state: the declared name,
// else the action reference, else the command.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Run
}

// StringMap is a map of string keys to string values that tolerates YAML
// scalars of any type on the value side ("false", 3.10 and plain strings all
// decode to their literal text).
type StringMap map[string]string

// Clone returns a copy of the map.
func (m StringMap) Clone() StringMap {
	if len(m) == 0 {
		return nil
	}
	clone := make(StringMap, len(m))
	for key, value := range m {
		clone[key] = value
	}
	return clone
}

// UnmarshalYAML decodes a YAML mapping of scalars, keeping each value's
// literal text.
func (m *StringMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow: expected a mapping, got %s", nodeKind(value))
	}
	out := make(StringMap, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("workflow: value for %s must be a scalar", keyNode.Value)
		}
		out[keyNode.Value] = valNode.Value
	}
	*m = out
	return nil
}

// StringList is a list of strings that also accepts a single YAML scalar as a
// one-element list, so `needs: build` and `needs: [build]` read the same.
type StringList []string

// UnmarshalYAML decodes a scalar or a sequence of scalars.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("workflow: list items must be scalars")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("workflow: expected a scalar or sequence, got %s", nodeKind(value))
	}
}

func checkJobID(id string) error {
	if id == "" {
		return fmt.Errorf("job id is empty")
	}
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case (r >= '0' && r <= '9') || r == '-':
			if i == 0 {
				return fmt.Errorf("job id %s must start with a letter or underscore", id)
			}
		default:
			return fmt.Errorf("job id %s contains invalid character %q", id, r)
		}
	}
	return nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.DocumentNode:
		return "document"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown node"
	}
}

func trimPatterns(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
