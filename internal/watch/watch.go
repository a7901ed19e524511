// Package watch turns local file edits into synthetic pull request
// deliveries. It watches the project tree, batches rapid saves behind a
// debounce window, and posts one delivery per settled batch so workflows
// re-run while their inputs are being edited.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/eventbridge"
	"github.com/kingrea/gantry/internal/workflow"
)

// DefaultDebounce batches rapid saves before a delivery goes out.
const DefaultDebounce = 500 * time.Millisecond

// tickInterval controls how often settled batches are flushed.
const tickInterval = 100 * time.Millisecond

// Logger records watcher diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Watcher monitors a project directory and posts synthetic deliveries to the
// sink whenever edits settle.
type Watcher struct {
	cfg      *config.Config
	root     string
	sink     eventbridge.EventProcessor
	logger   Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option customizes watcher construction.
type Option func(*Watcher)

// WithDebounce overrides the settle window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger routes watcher diagnostics to the given logger.
func WithLogger(logger Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New builds a watcher over the project directory behind cfg. Deliveries go
// to the sink, typically the event bridge dispatcher.
func New(cfg *config.Config, sink eventbridge.EventProcessor, opts ...Option) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("watch: config is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("watch: event sink is required")
	}
	w := &Watcher{
		cfg:      cfg,
		root:     cfg.ProjectDir,
		sink:     sink,
		logger:   nopLogger{},
		debounce: DefaultDebounce,
		pending:  map[string]time.Time{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start begins watching. Non-blocking; the watch loop runs in a goroutine
// until Stop is called or the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	w.watcher = watcher
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		_ = watcher.Close()
		w.mu.Lock()
		w.running = false
		w.watcher = nil
		w.mu.Unlock()
		return err
	}
	w.logger.Printf("watch: watching %s", w.root)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("watch: close watcher: %v", err)
	}
	w.logger.Printf("watch: stopped")
}

// addTree registers the directory and every visible subdirectory.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

// ignored reports whether a path sits inside a hidden directory. The .gantry
// and .git trees fall out of this rule; watching them would loop the watcher
// on its own runs.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Printf("watch: %v", err)
			}
			return
		}
	case event.Op&fsnotify.Write != 0:
	case event.Op&fsnotify.Remove != 0:
	case event.Op&fsnotify.Rename != 0:
	default:
		// chmod and friends
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = time.Now()
	w.mu.Unlock()
}

// flush posts one synthetic delivery for every batch of paths that settled
// past the debounce window.
func (w *Watcher) flush() {
	now := time.Now()
	w.mu.Lock()
	settled := make([]string, 0, len(w.pending))
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	if len(settled) == 0 {
		return
	}
	sort.Strings(settled)

	delivery := eventbridge.Event{
		Kind:         workflow.EventPullRequest,
		Action:       "synchronize",
		BaseRef:      w.cfg.BaseBranch(),
		HeadRef:      "local-edits",
		ChangedFiles: settled,
		Sender:       "gantry-watch",
		ClientTime:   now.UTC(),
	}
	delivery.Normalize()
	delivery.StampServerTime(now.UTC())
	w.logger.Printf("watch: %d files settled, posting delivery %s", len(settled), delivery.DeliveryID)
	if err := w.sink.HandleEvent(delivery); err != nil {
		w.logger.Printf("watch: deliver: %v", err)
	}
}
