package plan

import (
	"testing"

	"github.com/kingrea/gantry/internal/workflow"
)

func buildPlan(t *testing.T, def workflow.Definition) *Plan {
	t.Helper()
	p, err := New(def)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return p
}

func mustNode(t *testing.T, p *Plan, id string) *Node {
	t.Helper()
	node, ok := p.Node(id)
	if !ok {
		t.Fatalf("instance %s missing from plan", id)
	}
	return node
}

func pipelineDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "pipeline",
		On:   workflow.Triggers{PullRequest: &workflow.PullRequestRule{}},
		Jobs: map[string]workflow.Job{
			"build": {RunsOn: "ubuntu-latest", Steps: []workflow.Step{{Run: "make"}}},
			"test": {
				RunsOn: "ubuntu-latest",
				Needs:  workflow.StringList{"build"},
				Steps:  []workflow.Step{{Run: "pytest"}},
			},
			"publish": {
				RunsOn: "ubuntu-latest",
				Needs:  workflow.StringList{"test"},
				Steps:  []workflow.Step{{Run: "make publish"}},
			},
		},
	}
}

func TestNewExpandsStockWorkflowToOneInstance(t *testing.T) {
	p := buildPlan(t, workflow.DefaultDefinition())
	nodes := p.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("1x1 matrix should expand to exactly one instance, got %d", len(nodes))
	}
	node := nodes[0]
	if node.ID != "test (windows-latest, 3.10.*)" {
		t.Fatalf("unexpected instance id %q", node.ID)
	}
	if node.Job.RunsOn != "windows-latest" {
		t.Fatalf("runs-on should be concrete after expansion, got %q", node.Job.RunsOn)
	}
	if node.FailFast() {
		t.Fatalf("stock workflow disables fail-fast")
	}
	if got := node.Job.Steps[1].With["python-version"]; got != "3.10.*" {
		t.Fatalf("matrix reference not substituted: %q", got)
	}
}

func TestNewWiresNeedsAcrossInstances(t *testing.T) {
	def := pipelineDefinition()
	buildJob := def.Jobs["build"]
	buildJob.Strategy = workflow.Strategy{Matrix: workflow.Matrix{"os": {"linux", "windows"}}}
	def.Jobs["build"] = buildJob
	p := buildPlan(t, def)

	test := mustNode(t, p, "test")
	if len(test.Dependencies) != 2 {
		t.Fatalf("test should depend on both build instances, got %v", test.Dependencies)
	}
	for _, dep := range test.Dependencies {
		node := mustNode(t, p, dep)
		if node.JobID != "build" {
			t.Fatalf("unexpected dependency %s", dep)
		}
	}
}

func TestRefreshStates(t *testing.T) {
	p := buildPlan(t, pipelineDefinition())
	p.Refresh(nil)

	if got := mustNode(t, p, "build").State; got != NodeStateReady {
		t.Fatalf("build should be ready, got %s", got)
	}
	test := mustNode(t, p, "test")
	if test.State != NodeStateBlocked {
		t.Fatalf("test should be blocked, got %s", test.State)
	}
	if len(test.BlockedBy) != 1 || test.BlockedBy[0] != "build" {
		t.Fatalf("test blocked by %v", test.BlockedBy)
	}

	p.Refresh(map[string]Outcome{"build": OutcomeSucceeded})
	if got := mustNode(t, p, "test").State; got != NodeStateReady {
		t.Fatalf("test should be ready after build succeeds, got %s", got)
	}
	ready := p.Ready()
	if len(ready) != 1 || ready[0].ID != "test" {
		t.Fatalf("unexpected ready set %v", readyIDs(ready))
	}
}

func TestRefreshMarksDependentsUnreachable(t *testing.T) {
	p := buildPlan(t, pipelineDefinition())
	p.Refresh(map[string]Outcome{"build": OutcomeFailed})

	test := mustNode(t, p, "test")
	if test.State != NodeStateUnreachable {
		t.Fatalf("test should be unreachable after build fails, got %s", test.State)
	}
	if len(test.BlockedBy) != 1 || test.BlockedBy[0] != "build" {
		t.Fatalf("test lost-cause blockers %v", test.BlockedBy)
	}
	publish := mustNode(t, p, "publish")
	if publish.State != NodeStateBlocked {
		t.Fatalf("publish should still be blocked on test, got %s", publish.State)
	}

	p.Refresh(map[string]Outcome{
		"build": OutcomeFailed,
		"test":  OutcomeSkipped,
	})
	if got := mustNode(t, p, "publish").State; got != NodeStateUnreachable {
		t.Fatalf("publish should become unreachable, got %s", got)
	}
	unreachable := p.Unreachable()
	if len(unreachable) != 1 || unreachable[0].ID != "publish" {
		t.Fatalf("unexpected unreachable set %v", readyIDs(unreachable))
	}
}

func TestQueueOrdersDependencies(t *testing.T) {
	p := buildPlan(t, pipelineDefinition())
	p.Refresh(nil)

	queue, err := p.Queue("publish")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 queued instances, got %d", len(queue))
	}
	if queue[0].ID != "build" || queue[1].ID != "test" || queue[2].ID != "publish" {
		t.Fatalf("unexpected order: %s -> %s -> %s", queue[0].ID, queue[1].ID, queue[2].ID)
	}

	p.Refresh(map[string]Outcome{"build": OutcomeSucceeded})
	queue, err = p.Queue("publish")
	if err != nil {
		t.Fatalf("queue after build: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != "test" {
		t.Fatalf("completed instances should drop from the queue, got %v", readyIDs(queue))
	}
}

func TestQueueRejectsUnknownTarget(t *testing.T) {
	p := buildPlan(t, pipelineDefinition())
	if _, err := p.Queue("nope"); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

func readyIDs(nodes []*Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.ID)
	}
	return ids
}
