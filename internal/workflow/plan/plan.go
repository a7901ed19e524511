package plan

import (
	"fmt"
	"sort"

	"github.com/kingrea/gantry/internal/workflow"
)

// NodeState represents the plan's understanding of a job instance's
// readiness.
type NodeState string

const (
	NodeStateUnknown     NodeState = "unknown"
	NodeStatePending     NodeState = "pending"
	NodeStateReady       NodeState = "ready"
	NodeStateBlocked     NodeState = "blocked"
	NodeStateUnreachable NodeState = "unreachable"
	NodeStateComplete    NodeState = "complete"
)

// Outcome is the terminal result of a completed job instance.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// Node is one job instance: a job materialized for a single matrix cell.
type Node struct {
	// ID is the instance title, e.g. "test (windows-latest, 3.10.*)". Jobs
	// without a matrix use the bare job id.
	ID    string
	JobID string
	Cell  workflow.Cell
	// Job carries the instance's steps and env with matrix references
	// already substituted. RunsOn is the concrete runner label.
	Job          workflow.Job
	Dependencies []string
	Dependents   []string

	State     NodeState
	BlockedBy []string
	Outcome   Outcome
}

// FailFast reports the instance's effective fail-fast policy.
func (n *Node) FailFast() bool {
	return n.Job.Strategy.FailFastEnabled()
}

// Plan holds the expanded instance graph for one workflow definition.
type Plan struct {
	definition workflow.Definition
	nodes      map[string]*Node
	orderedIDs []string
	byJob      map[string][]string
}

// New expands the definition into a plan. The definition is normalized first;
// matrix cells become one instance each and needs edges connect every
// instance of a job to every instance of the jobs it needs.
func New(def workflow.Definition) (*Plan, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	p := &Plan{
		definition: normalized,
		nodes:      map[string]*Node{},
		byJob:      map[string][]string{},
	}
	for _, jobID := range normalized.JobIDs() {
		job := normalized.Jobs[jobID]
		for _, cell := range job.Strategy.Matrix.Expand() {
			inst, err := workflow.InstantiateJob(job, cell)
			if err != nil {
				return nil, fmt.Errorf("plan: job %s: %w", jobID, err)
			}
			node := &Node{
				ID:    InstanceID(jobID, cell),
				JobID: jobID,
				Cell:  cell.Clone(),
				Job:   inst,
				State: NodeStatePending,
			}
			if _, exists := p.nodes[node.ID]; exists {
				return nil, fmt.Errorf("plan: duplicate instance %s", node.ID)
			}
			p.nodes[node.ID] = node
			p.orderedIDs = append(p.orderedIDs, node.ID)
			p.byJob[jobID] = append(p.byJob[jobID], node.ID)
		}
	}
	for _, node := range p.nodes {
		for _, needed := range p.definition.Jobs[node.JobID].Needs {
			for _, depID := range p.byJob[needed] {
				node.Dependencies = append(node.Dependencies, depID)
				p.nodes[depID].Dependents = append(p.nodes[depID].Dependents, node.ID)
			}
		}
		sort.Strings(node.Dependencies)
	}
	for _, node := range p.nodes {
		sort.Strings(node.Dependents)
	}
	return p, nil
}

// InstanceID titles a job instance the way run logs and state files key it.
func InstanceID(jobID string, cell workflow.Cell) string {
	label := cell.Label()
	if label == "" {
		return jobID
	}
	return fmt.Sprintf("%s (%s)", jobID, label)
}

// Definition returns a clone of the plan's normalized definition.
func (p *Plan) Definition() workflow.Definition {
	return p.definition.Clone()
}

// Nodes returns the instances in expansion order.
func (p *Plan) Nodes() []*Node {
	out := make([]*Node, 0, len(p.orderedIDs))
	for _, id := range p.orderedIDs {
		if node, ok := p.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

// Node retrieves an instance by ID.
func (p *Plan) Node(id string) (*Node, bool) {
	node, ok := p.nodes[id]
	return node, ok
}

// JobInstances returns the instance IDs expanded from one job.
func (p *Plan) JobInstances(jobID string) []string {
	ids := p.byJob[jobID]
	if len(ids) == 0 {
		return nil
	}
	clone := make([]string, len(ids))
	copy(clone, ids)
	return clone
}

// Refresh re-evaluates instance readiness from the recorded outcomes. An
// instance is ready when every dependency succeeded, unreachable when any
// dependency finished without succeeding, and blocked while dependencies are
// still outstanding.
func (p *Plan) Refresh(outcomes map[string]Outcome) {
	for _, node := range p.nodes {
		node.BlockedBy = nil
		node.Outcome = ""
		if outcome, ok := outcomes[node.ID]; ok {
			node.State = NodeStateComplete
			node.Outcome = outcome
			continue
		}
		node.State = NodeStatePending
	}
	for _, node := range p.nodes {
		if node.State == NodeStateComplete {
			continue
		}
		var waiting, lost []string
		for _, depID := range node.Dependencies {
			dep, ok := p.nodes[depID]
			if !ok {
				continue
			}
			if dep.State != NodeStateComplete {
				waiting = append(waiting, depID)
				continue
			}
			if dep.Outcome != OutcomeSucceeded {
				lost = append(lost, depID)
			}
		}
		switch {
		case len(lost) > 0:
			node.State = NodeStateUnreachable
			node.BlockedBy = lost
		case len(waiting) > 0:
			node.State = NodeStateBlocked
			node.BlockedBy = waiting
		default:
			node.State = NodeStateReady
		}
	}
}

// Ready returns instances that are runnable because all dependencies
// succeeded.
func (p *Plan) Ready() []*Node {
	var ready []*Node
	for _, id := range p.orderedIDs {
		node := p.nodes[id]
		if node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Unreachable returns instances that can never run because a dependency
// finished without succeeding.
func (p *Plan) Unreachable() []*Node {
	var out []*Node
	for _, id := range p.orderedIDs {
		node := p.nodes[id]
		if node.State == NodeStateUnreachable {
			out = append(out, node)
		}
	}
	return out
}

// Queue returns instances that must run to satisfy the requested targets, in
// dependency order, skipping completed instances. Empty targets queue the
// whole plan.
func (p *Plan) Queue(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		targets = append([]string{}, p.orderedIDs...)
	}
	visited := make(map[string]bool, len(targets))
	ordered := make([]*Node, 0, len(p.nodes))
	var visit func(string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		node, ok := p.nodes[id]
		if !ok {
			return fmt.Errorf("plan: unknown instance %s", id)
		}
		visited[id] = true
		for _, dep := range node.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		if node.State != NodeStateComplete {
			ordered = append(ordered, node)
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
