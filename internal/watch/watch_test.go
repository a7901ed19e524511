package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/eventbridge"
)

type recordingSink struct {
	mu     sync.Mutex
	events []eventbridge.Event
}

func (s *recordingSink) HandleEvent(e eventbridge.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []eventbridge.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventbridge.Event(nil), s.events...)
}

func watchProject(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	if err := config.InitGantryDir(dir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "onstove"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return cfg, dir
}

func waitForDelivery(t *testing.T, sink *recordingSink) eventbridge.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.snapshot(); len(events) > 0 {
			return events[0]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no delivery arrived")
	return eventbridge.Event{}
}

func TestWatcherPostsDeliveryForSettledEdits(t *testing.T) {
	cfg, dir := watchProject(t)
	sink := &recordingSink{}
	watcher, err := New(cfg, sink, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(filepath.Join(dir, "onstove", "model.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	delivery := waitForDelivery(t, sink)
	if delivery.Kind != "pull_request" {
		t.Fatalf("expected pull_request delivery, got %q", delivery.Kind)
	}
	if delivery.BaseRef != cfg.BaseBranch() {
		t.Fatalf("base_ref = %q, want project base branch %q", delivery.BaseRef, cfg.BaseBranch())
	}
	if delivery.DeliveryID == "" {
		t.Fatalf("delivery id not assigned")
	}
	found := false
	for _, file := range delivery.ChangedFiles {
		if file == "onstove/model.py" {
			found = true
		}
	}
	if !found {
		t.Fatalf("changed files missing edit: %v", delivery.ChangedFiles)
	}
}

func TestWatcherIgnoresRunDirectoryChurn(t *testing.T) {
	cfg, dir := watchProject(t)
	sink := &recordingSink{}
	watcher, err := New(cfg, sink, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer watcher.Stop()

	// writes under .gantry must never loop the watcher on its own runs
	statePath := filepath.Join(dir, config.GantryDir, "runs", "state.json")
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(statePath, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	if events := sink.snapshot(); len(events) != 0 {
		t.Fatalf("expected no deliveries, got %v", events)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	cfg, _ := watchProject(t)
	watcher, err := New(cfg, &recordingSink{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
