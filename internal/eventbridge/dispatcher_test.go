package eventbridge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/run"
	"github.com/kingrea/gantry/internal/workflow"
)

type stubStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (s *stubStarter) Run(ctx context.Context, def workflow.Definition, record run.EventRecord) (run.State, error) {
	s.mu.Lock()
	s.started = append(s.started, def.Name)
	s.mu.Unlock()
	if s.err != nil {
		return run.State{}, s.err
	}
	return run.State{RunID: "run-1", Workflow: def.Name, Status: run.StatusSucceeded}, nil
}

func (s *stubStarter) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func dispatcherConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := config.InitGantryDir(dir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	def := workflow.Definition{
		Name: "onstove tests",
		On: workflow.Triggers{PullRequest: &workflow.PullRequestRule{
			Branches: []string{"main"},
			Paths:    []string{"onstove/*"},
		}},
		Jobs: map[string]workflow.Job{
			"test": {RunsOn: "windows-latest", Steps: []workflow.Step{{Run: "pytest"}}},
		},
	}
	if err := workflow.SaveDefinition(filepath.Join(cfg.WorkflowsDir(), "tests.yml"), def); err != nil {
		t.Fatalf("save definition: %v", err)
	}
	return cfg
}

func matchingDelivery() Event {
	evt := Event{
		DeliveryID:   "delivery-1",
		Kind:         "pull_request",
		BaseRef:      "main",
		HeadSHA:      "abc123",
		ChangedFiles: []string{"onstove/model.py"},
	}
	evt.Normalize()
	return evt
}

func TestDispatcherStartsRunsForMatches(t *testing.T) {
	cfg := dispatcherConfig(t)
	starter := &stubStarter{}
	router := NewRouter(RouterWithSubscriberCapacity(8))
	dispatcher, err := NewDispatcher(cfg, starter, DispatcherWithRouter(router))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	sub := router.Subscribe("onstove tests")
	defer sub.Close()

	if err := dispatcher.HandleEvent(matchingDelivery()); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	dispatcher.Wait()

	if names := starter.names(); len(names) != 1 || names[0] != "onstove tests" {
		t.Fatalf("expected one run for onstove tests, got %v", names)
	}
	got := map[string]StatusEvent{}
	for i := 0; i < 2; i++ {
		evt := <-sub.Events
		got[evt.Type] = evt
	}
	if _, ok := got[StatusRunStarted]; !ok {
		t.Fatalf("missing run_started event: %v", got)
	}
	finished, ok := got[StatusRunFinished]
	if !ok {
		t.Fatalf("missing run_finished event: %v", got)
	}
	if finished.RunID != "run-1" || finished.Message != string(run.StatusSucceeded) {
		t.Fatalf("unexpected conclusion event: %+v", finished)
	}
}

func TestDispatcherSkipsNonMatchingDeliveries(t *testing.T) {
	cfg := dispatcherConfig(t)
	starter := &stubStarter{}
	router := NewRouter(RouterWithSubscriberCapacity(8))
	dispatcher, err := NewDispatcher(cfg, starter, DispatcherWithRouter(router))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	sub := router.Subscribe("onstove tests")
	defer sub.Close()

	evt := matchingDelivery()
	evt.BaseRef = "develop"
	if err := dispatcher.HandleEvent(evt); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	dispatcher.Wait()

	if names := starter.names(); len(names) != 0 {
		t.Fatalf("no run should start, got %v", names)
	}
	skipped := <-sub.Events
	if skipped.Type != StatusWorkflowSkipped {
		t.Fatalf("expected workflow_skipped, got %s", skipped.Type)
	}
	if skipped.Message == "" {
		t.Fatalf("skip event should carry the non-match reason")
	}
}

func TestDispatcherPublishesStartErrors(t *testing.T) {
	cfg := dispatcherConfig(t)
	starter := &stubStarter{err: errors.New("no runner configured")}
	router := NewRouter(RouterWithSubscriberCapacity(8))
	dispatcher, err := NewDispatcher(cfg, starter, DispatcherWithRouter(router))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	sub := router.Subscribe("onstove tests")
	defer sub.Close()

	if err := dispatcher.HandleEvent(matchingDelivery()); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	dispatcher.Wait()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		evt := <-sub.Events
		seen[evt.Type] = true
	}
	if !seen[StatusError] {
		t.Fatalf("expected error event, saw %v", seen)
	}
}
