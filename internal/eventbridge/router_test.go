package eventbridge

import (
	"testing"
)

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := StatusEvent{ID: "d-1", Workflow: "onstove tests", Type: StatusRunStarted}
	second := StatusEvent{ID: "d-2", Workflow: "onstove tests", Type: StatusJobFinished}
	router.Publish(first)
	router.Publish(second)
	sub := router.Subscribe("onstove tests")
	defer sub.Close()
	got1 := <-sub.Events
	if got1.ID != first.ID {
		t.Fatalf("expected first buffered event, got %s", got1.ID)
	}
	got2 := <-sub.Events
	if got2.ID != second.ID {
		t.Fatalf("expected second buffered event, got %s", got2.ID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("onstove tests")
	defer sub.Close()
	event := StatusEvent{ID: "d-1", Workflow: "onstove tests", Type: StatusJobProgress}
	router.Publish(event)
	router.Publish(event)
	select {
	case got := <-sub.Events:
		if got.ID != event.ID {
			t.Fatalf("unexpected event: %s", got.ID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterResolvesWorkflowByRunID(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	sub := router.Subscribe("onstove tests")
	defer sub.Close()
	router.Publish(StatusEvent{ID: "d-1", Workflow: "onstove tests", RunID: "run-1", Type: StatusRunStarted})
	// follow-up events may arrive without the workflow name
	router.Publish(StatusEvent{ID: "d-2", RunID: "run-1", Type: StatusRunFinished})
	<-sub.Events
	got := <-sub.Events
	if got.Type != StatusRunFinished {
		t.Fatalf("expected run_finished resolved via run id, got %s", got.Type)
	}
}

func TestRouterDropsProgressBeforeConclusions(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("onstove tests")
	defer sub.Close()
	oldest := StatusEvent{ID: "d-1", Workflow: "onstove tests", Type: StatusJobProgress}
	critical := StatusEvent{ID: "d-2", Workflow: "onstove tests", Type: StatusRunFinished}
	router.Publish(oldest)
	router.Publish(critical)
	if got := <-sub.Events; got.ID != critical.ID {
		t.Fatalf("expected conclusion to replace oldest, got %s", got.ID)
	}
}

func TestRouterKeepsCriticalOldestOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("onstove tests")
	defer sub.Close()
	oldest := StatusEvent{ID: "d-1", Workflow: "onstove tests", Type: StatusRunFinished}
	droppable := StatusEvent{ID: "d-2", Workflow: "onstove tests", Type: StatusJobProgress}
	router.Publish(oldest)
	router.Publish(droppable)
	if got := <-sub.Events; got.ID != oldest.ID {
		t.Fatalf("expected oldest critical event to remain, got %s", got.ID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}
