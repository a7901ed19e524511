// Package run drives workflow execution: it expands a definition into job
// instances, schedules them against the configured runner catalog, executes
// their steps, and persists state after every transition.
package run

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/artifact"
	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/executor"
	"github.com/kingrea/gantry/internal/logbook"
	"github.com/kingrea/gantry/internal/rundir"
	"github.com/kingrea/gantry/internal/secrets"
	"github.com/kingrea/gantry/internal/workflow"
	"github.com/kingrea/gantry/internal/workflow/plan"
	"github.com/kingrea/gantry/internal/workflow/scheduler"
)

// summaryProducer tags the summary artifact's provenance.
const summaryProducer = "gantry-engine"

// summaryVersion tracks the summary document layout.
const summaryVersion = "1.0.0"

// ExecutorFactory provisions an executor for one job instance. The runID is
// available for labeling resources so strays can be swept later.
type ExecutorFactory func(label string, runner config.RunnerRef, workspace, runID string) (executor.Executor, error)

// Logger receives engine-level diagnostics. The run's own logbook records the
// run narrative regardless of this logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Engine executes workflow runs against a project's runner catalog.
type Engine struct {
	cfg       *config.Config
	registry  *action.Registry
	secrets   *secrets.Store
	clock     func() time.Time
	log       Logger
	provision ExecutorFactory
	mirror    *artifact.ObjectStore
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithExecutorFactory overrides how runners are provisioned.
func WithExecutorFactory(factory ExecutorFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.provision = factory
		}
	}
}

// WithLogger routes engine diagnostics to the given logger.
func WithLogger(log Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithObjectStore mirrors finished runs to the given object store.
func WithObjectStore(store *artifact.ObjectStore) Option {
	return func(e *Engine) {
		e.mirror = store
	}
}

// New wires an engine to the project configuration, the action registry, and
// the secrets store.
func New(cfg *config.Config, registry *action.Registry, store *secrets.Store, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("run engine: config is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("run engine: action registry is required")
	}
	if store == nil {
		store = secrets.FromMap(nil)
	}
	engine := &Engine{
		cfg:       cfg,
		registry:  registry,
		secrets:   store,
		clock:     time.Now,
		log:       nopLogger{},
		provision: defaultExecutorFactory,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

func defaultExecutorFactory(label string, runner config.RunnerRef, workspace, runID string) (executor.Executor, error) {
	switch runner.Executor {
	case config.ExecutorDocker:
		return executor.NewDocker(executor.DockerOptions{
			Image:     runner.Image,
			Workspace: workspace,
			Platform:  runner.OS,
			Labels:    map[string]string{"gantry.run": runID},
		})
	case config.ExecutorLocal:
		return executor.NewLocal(workspace), nil
	default:
		return nil, fmt.Errorf("run engine: runner %s has unknown executor %q", label, runner.Executor)
	}
}

// Run executes the definition for one event. The returned state is the final
// persisted snapshot; the error return is reserved for infrastructure
// failures that prevented the run from starting or persisting. A run whose
// jobs failed returns a StatusFailed state and a nil error.
func (e *Engine) Run(ctx context.Context, def workflow.Definition, ev EventRecord) (State, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return State{}, err
	}
	labels, err := normalized.RunnerLabels()
	if err != nil {
		return State{}, err
	}
	for _, label := range labels {
		if _, ok := e.cfg.Runner(label); !ok {
			return State{}, fmt.Errorf("run engine: no runner configured for label %q (known: %s)",
				label, strings.Join(e.cfg.RunnerLabels(), ", "))
		}
	}
	p, err := plan.New(normalized)
	if err != nil {
		return State{}, err
	}
	sched, err := scheduler.New(p)
	if err != nil {
		return State{}, err
	}

	now := e.now()
	runID := generateRunID(normalized.Name, now)
	run := e.cfg.Rundir().Run(runID)
	if err := run.Initialize(); err != nil {
		return State{}, fmt.Errorf("run engine: initialize run directory: %w", err)
	}
	book, err := logbook.New(run.LogbookPath())
	if err != nil {
		return State{}, fmt.Errorf("run engine: open run logbook: %w", err)
	}
	tracker := &stateTracker{
		state: newState(runID, normalized, ev, p, now),
		repo:  NewRepository(run.StatePath()),
		clock: e.clock,
		book:  book,
	}
	if err := tracker.update(func(s *State) { s.Status = StatusRunning }); err != nil {
		return State{}, err
	}
	book.Info("run %s started: workflow %q, event %s on %s", runID, normalized.Name, ev.Kind, ev.BaseRef)
	e.log.Printf("run %s started (%d instances)", runID, len(p.Nodes()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := map[string]plan.Outcome{}
	maxParallel := aggregateMaxParallel(normalized)
	failFastTripped := false

	for len(outcomes) < len(p.Nodes()) {
		p.Refresh(outcomes)

		if failFastTripped || runCtx.Err() != nil {
			for _, node := range p.Nodes() {
				if _, done := outcomes[node.ID]; done {
					continue
				}
				outcomes[node.ID] = plan.OutcomeCancelled
				tracker.updateJob(node.ID, func(j *JobState) {
					markJobFinished(j, JobCancelled, "cancelled by fail-fast", e.now())
				})
				book.Warn("job %s cancelled", node.ID)
			}
			break
		}

		batch, err := sched.Runnable(scheduler.RunnableRequest{MaxParallel: maxParallel})
		if err != nil {
			return e.finish(run, tracker, book, fmt.Sprintf("scheduler: %v", err))
		}

		progressed := false
		for id, skip := range batch.Skipped {
			if skip.Reason != scheduler.SkipReasonUnreachable {
				continue
			}
			outcomes[id] = plan.OutcomeSkipped
			tracker.updateJob(id, func(j *JobState) {
				markJobFinished(j, JobSkipped, skip.Detail, e.now())
			})
			book.Warn("job %s skipped: %s", id, skip.Detail)
			progressed = true
		}
		if len(batch.Nodes) == 0 {
			if progressed {
				continue
			}
			return e.finish(run, tracker, book, "no runnable instances remain")
		}

		group, groupCtx := errgroup.WithContext(runCtx)
		if maxParallel > 0 {
			group.SetLimit(maxParallel)
		}
		var mu sync.Mutex
		batchOutcomes := make(map[string]plan.Outcome, len(batch.Nodes))
		for _, node := range batch.Nodes {
			node := node
			group.Go(func() error {
				outcome := e.executeNode(groupCtx, run, node, normalized, ev, tracker, book)
				mu.Lock()
				batchOutcomes[node.ID] = outcome
				mu.Unlock()
				if outcome == plan.OutcomeFailed && node.FailFast() {
					cancel()
				}
				return nil
			})
		}
		group.Wait()
		for id, outcome := range batchOutcomes {
			outcomes[id] = outcome
			if outcome == plan.OutcomeFailed {
				if node, ok := p.Node(id); ok && node.FailFast() {
					failFastTripped = true
				}
			}
		}
	}

	return e.finish(run, tracker, book, "")
}

// executeNode runs one job instance to completion and returns its outcome.
func (e *Engine) executeNode(ctx context.Context, run *rundir.Run, node *plan.Node, def workflow.Definition, ev EventRecord, tracker *stateTracker, book *logbook.Logbook) plan.Outcome {
	if ctx.Err() != nil {
		tracker.updateJob(node.ID, func(j *JobState) {
			markJobFinished(j, JobCancelled, "cancelled before start", e.now())
		})
		return plan.OutcomeCancelled
	}

	tracker.updateJob(node.ID, func(j *JobState) {
		j.Status = JobRunning
		j.StartedAt = e.now()
	})
	book.Info("job %s started on %s", node.ID, node.Job.RunsOn)

	runner, _ := e.cfg.Runner(node.Job.RunsOn)
	exec, err := e.provision(node.Job.RunsOn, runner, run.WorkspacePath(), run.ID())
	if err != nil {
		reason := fmt.Sprintf("provision runner %s: %v", node.Job.RunsOn, err)
		book.Error("job %s: %s", node.ID, reason)
		tracker.updateJob(node.ID, func(j *JobState) {
			markJobFinished(j, JobFailed, reason, e.now())
		})
		return plan.OutcomeFailed
	}
	if closer, ok := exec.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	jobBook, err := logbook.New(run.JobLogPath(node.ID))
	if err != nil {
		reason := fmt.Sprintf("open job logbook: %v", err)
		book.Error("job %s: %s", node.ID, reason)
		tracker.updateJob(node.ID, func(j *JobState) {
			markJobFinished(j, JobFailed, reason, e.now())
		})
		return plan.OutcomeFailed
	}

	sc := action.NewContext(run, exec, jobBook)
	failedStep := ""
	cancelled := false

	for idx, step := range node.Job.Steps {
		idx := idx
		if failedStep != "" || ctx.Err() != nil {
			tracker.updateJob(node.ID, func(j *JobState) {
				j.Steps[idx].Status = StepSkipped
			})
			continue
		}

		tracker.updateJob(node.ID, func(j *JobState) {
			j.Steps[idx].Status = StepRunning
			j.Steps[idx].StartedAt = e.now()
		})
		jobBook.Info("step %q started", step.DisplayName())

		env := e.stepEnv(def, node.Job, step, sc.Exports(), run, ev)
		status, exitCode, message := e.runStep(ctx, step, env, runner, exec, sc)
		if status == StepFailed && ctx.Err() != nil {
			status = StepCancelled
		}

		tracker.updateJob(node.ID, func(j *JobState) {
			j.Steps[idx].Status = status
			j.Steps[idx].ExitCode = exitCode
			j.Steps[idx].Message = message
			j.Steps[idx].FinishedAt = e.now()
		})
		switch status {
		case StepCancelled:
			cancelled = true
			jobBook.Warn("step %q cancelled", step.DisplayName())
		case StepFailed:
			failedStep = step.DisplayName()
			jobBook.Error("step %q failed (exit %d): %s", step.DisplayName(), exitCode, message)
		default:
			jobBook.Info("step %q finished (exit %d)", step.DisplayName(), exitCode)
		}
	}

	finished := e.now()
	switch {
	case cancelled:
		tracker.updateJob(node.ID, func(j *JobState) {
			markJobFinished(j, JobCancelled, "cancelled while running", finished)
		})
		book.Warn("job %s cancelled", node.ID)
		return plan.OutcomeCancelled
	case failedStep != "":
		reason := fmt.Sprintf("step %q failed", failedStep)
		tracker.updateJob(node.ID, func(j *JobState) {
			j.Status = JobFailed
			j.Reason = reason
			j.FinishedAt = finished
		})
		book.Error("job %s failed: %s", node.ID, reason)
		return plan.OutcomeFailed
	default:
		tracker.updateJob(node.ID, func(j *JobState) {
			j.Status = JobSucceeded
			j.FinishedAt = finished
		})
		book.Info("job %s succeeded", node.ID)
		return plan.OutcomeSucceeded
	}
}

// runStep executes one step and maps its result onto step status. The
// returned exit code is the command's own; infrastructure failures report -1
// with the error in the message.
func (e *Engine) runStep(ctx context.Context, step workflow.Step, env []string, runner config.RunnerRef, exec executor.Executor, sc *action.StepContext) (StepStatus, int, string) {
	if step.Uses != "" {
		act, err := e.registry.Resolve(step.Uses, nil)
		if err != nil {
			return StepFailed, -1, err.Error()
		}
		with := make(map[string]string, len(step.With))
		for key, value := range step.With {
			if resolved, ok := e.resolveValue(value); ok {
				with[key] = resolved
			}
		}
		result, err := act.Run(ctx, sc.WithParams(with).WithEnv(env))
		if err != nil {
			return StepFailed, -1, err.Error()
		}
		if result.Status == action.StatusFailed {
			return StepFailed, result.ExitCode, result.Message
		}
		return StepSucceeded, result.ExitCode, result.Message
	}

	cmd := shellCommand(runner.OS, step.Run, env)
	result, err := exec.Execute(ctx, cmd)
	if err != nil {
		return StepFailed, -1, err.Error()
	}
	if !result.Succeeded() {
		message := result.KillReason
		if message == "" {
			message = trimOutput(result.Stderr)
		}
		return StepFailed, result.ExitCode, message
	}
	return StepSucceeded, result.ExitCode, ""
}

// shellCommand wraps a run: script in the runner platform's shell.
func shellCommand(platform, script string, env []string) executor.Command {
	if platform == "windows" {
		return executor.Command{Binary: "cmd", Args: []string{"/C", script}, Env: env}
	}
	return executor.Command{Binary: "sh", Args: []string{"-c", script}, Env: env}
}

// stepEnv layers the step's environment: engine-provided facts first so
// workflow declarations can override them, then workflow, job, and step env
// in increasing precedence, then exports published by earlier steps.
// Values referencing secrets resolve through the store; a value that is a
// bare secret reference to an unknown secret leaves the variable unset.
func (e *Engine) stepEnv(def workflow.Definition, job workflow.Job, step workflow.Step, exports map[string]string, run *rundir.Run, ev EventRecord) []string {
	injected := map[string]string{
		"GANTRY_RUN_ID":   run.ID(),
		"GANTRY_WORKFLOW": def.Name,
	}
	if ev.Repo != "" {
		injected["GANTRY_REPOSITORY"] = ev.Repo
	}
	if ev.HeadSHA != "" {
		injected["GANTRY_SHA"] = ev.HeadSHA
	}
	if ev.HeadRef != "" {
		injected["GANTRY_HEAD_REF"] = ev.HeadRef
	}
	if ev.BaseRef != "" {
		injected["GANTRY_BASE_REF"] = ev.BaseRef
	}

	env := make([]string, 0, len(injected)+len(def.Env)+len(job.Env)+len(step.Env)+len(exports))
	appendPlain := func(values map[string]string) {
		for _, key := range sortedKeys(values) {
			env = append(env, key+"="+values[key])
		}
	}
	appendResolved := func(values map[string]string) {
		for _, key := range sortedKeys(values) {
			if value, ok := e.resolveValue(values[key]); ok {
				env = append(env, key+"="+value)
			}
		}
	}
	appendPlain(injected)
	appendResolved(def.Env)
	appendResolved(job.Env)
	appendResolved(step.Env)
	appendPlain(exports)
	return env
}

// resolveValue expands secret references. A value that is exactly one secret
// reference resolves to that secret, or reports false when the secret is not
// configured so the variable stays unset. Inline references expand in place,
// missing ones to empty.
func (e *Engine) resolveValue(value string) (string, bool) {
	if name, ok := workflow.SecretRef(value); ok {
		resolved, found := e.secrets.Lookup(name)
		if !found {
			return "", false
		}
		return resolved, true
	}
	return workflow.ExpandSecrets(value, e.secrets.Lookup), true
}

// finish derives the run conclusion, persists it, and writes the summary.
// infraReason, when set, forces a failed conclusion independent of job state.
func (e *Engine) finish(run *rundir.Run, tracker *stateTracker, book *logbook.Logbook, infraReason string) (State, error) {
	now := e.now()
	err := tracker.update(func(s *State) {
		_, failed, cancelled, _, _ := s.Counts()
		switch {
		case infraReason != "":
			s.Status = StatusFailed
			s.StatusReason = infraReason
		case failed > 0:
			s.Status = StatusFailed
			s.StatusReason = fmt.Sprintf("%d of %d jobs failed", failed, len(s.Jobs))
		case cancelled > 0:
			s.Status = StatusCancelled
			s.StatusReason = fmt.Sprintf("%d jobs cancelled", cancelled)
		default:
			s.Status = StatusSucceeded
			s.StatusReason = ""
		}
		s.FinishedAt = now
	})
	if err != nil {
		return State{}, err
	}
	final := tracker.snapshot()
	if final.StatusReason != "" {
		book.Info("run %s finished: %s (%s)", final.RunID, final.Status, final.StatusReason)
	} else {
		book.Info("run %s finished: %s", final.RunID, final.Status)
	}
	e.log.Printf("run %s finished: %s", final.RunID, final.Status)

	if err := e.writeSummary(run, final); err != nil {
		book.Warn("write summary: %v", err)
	}
	e.mirrorRun(run, book)
	return final, nil
}

// mirrorRun uploads the run directory to the object store when one is
// configured. Mirror failures are logged, never fatal.
func (e *Engine) mirrorRun(run *rundir.Run, book *logbook.Logbook) {
	if e.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := e.mirror.EnsureBucket(ctx); err != nil {
		book.Warn("object store: ensure bucket: %v", err)
		return
	}
	count, err := e.mirror.MirrorRun(ctx, run)
	if err != nil {
		book.Warn("object store: mirror run: %v", err)
		return
	}
	if err := run.WriteMarker(rundir.MarkerUploaded); err != nil {
		book.Warn("object store: write marker: %v", err)
		return
	}
	book.Info("object store: mirrored %d files", count)
}

// writeSummary renders the human-readable run report into the run directory.
func (e *Engine) writeSummary(run *rundir.Run, state State) error {
	store := artifact.NewStore(run, artifact.WithClock(e.clock))
	meta := artifact.Metadata{
		Producer: summaryProducer,
		Version:  summaryVersion,
		Run:      state.RunID,
	}
	return store.Write(artifact.SummaryDoc, []byte(renderSummary(state)), meta)
}

func renderSummary(state State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", state.RunID)
	fmt.Fprintf(&b, "- Workflow: %s\n", state.Workflow)
	fmt.Fprintf(&b, "- Event: %s", state.Event.Kind)
	if state.Event.BaseRef != "" {
		fmt.Fprintf(&b, " targeting %s", state.Event.BaseRef)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Conclusion: %s\n", state.Status)
	if state.StatusReason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", state.StatusReason)
	}
	b.WriteString("\n## Jobs\n\n")
	for _, job := range state.JobStates() {
		fmt.Fprintf(&b, "### %s\n\n", job.ID)
		fmt.Fprintf(&b, "- Status: %s\n", job.Status)
		if job.Reason != "" {
			fmt.Fprintf(&b, "- Reason: %s\n", job.Reason)
		}
		fmt.Fprintf(&b, "- Runner: %s\n\n", job.RunsOn)
		for _, step := range job.Steps {
			switch step.Status {
			case StepSucceeded, StepFailed:
				fmt.Fprintf(&b, "- [%s] %s (exit %d)\n", step.Status, step.Name, step.ExitCode)
			default:
				fmt.Fprintf(&b, "- [%s] %s\n", step.Status, step.Name)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// newState builds the initial pending snapshot from the expanded plan.
func newState(runID string, def workflow.Definition, ev EventRecord, p *plan.Plan, now time.Time) State {
	state := State{
		RunID:     runID,
		Workflow:  def.Name,
		Status:    StatusPending,
		Event:     ev,
		Jobs:      map[string]JobState{},
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, node := range p.Nodes() {
		steps := make([]StepState, len(node.Job.Steps))
		for i, step := range node.Job.Steps {
			steps[i] = StepState{
				Name:   step.DisplayName(),
				Uses:   step.Uses,
				Run:    step.Run,
				Status: StepPending,
			}
		}
		state.JobOrder = append(state.JobOrder, node.ID)
		state.Jobs[node.ID] = JobState{
			ID:     node.ID,
			JobID:  node.JobID,
			RunsOn: node.Job.RunsOn,
			Cell:   map[string]string(node.Cell.Clone()),
			Status: JobPending,
			Steps:  steps,
		}
	}
	return state
}

// markJobFinished settles a job and marks every unfinished step skipped.
func markJobFinished(j *JobState, status JobStatus, reason string, now time.Time) {
	j.Status = status
	j.Reason = reason
	j.FinishedAt = now
	for i := range j.Steps {
		switch j.Steps[i].Status {
		case StepPending, StepRunning:
			j.Steps[i].Status = StepSkipped
		}
	}
}

// aggregateMaxParallel returns the tightest positive max-parallel declared
// across jobs, zero when none declares one.
func aggregateMaxParallel(def workflow.Definition) int {
	limit := 0
	for _, job := range def.Jobs {
		if job.Strategy.MaxParallel > 0 && (limit == 0 || job.Strategy.MaxParallel < limit) {
			limit = job.Strategy.MaxParallel
		}
	}
	return limit
}

func generateRunID(name string, now time.Time) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "workflow"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	return fmt.Sprintf("%s-%d", base, now.UnixNano())
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func trimOutput(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > 512 {
		output = output[:512] + "..."
	}
	return output
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// LoadState reads the persisted snapshot of a run directory.
func LoadState(run *rundir.Run) (State, error) {
	return NewRepository(run.StatePath()).Load()
}

// stateTracker serializes state mutation and persistence.
type stateTracker struct {
	mu    sync.Mutex
	state State
	repo  StateStore
	clock func() time.Time
	book  *logbook.Logbook
}

func (t *stateTracker) update(mutate func(*State)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutate(&t.state)
	t.state.UpdatedAt = t.clock()
	return t.repo.Save(t.state.Clone())
}

func (t *stateTracker) updateJob(id string, mutate func(*JobState)) {
	err := t.update(func(s *State) {
		job, ok := s.Jobs[id]
		if !ok {
			return
		}
		mutate(&job)
		s.Jobs[id] = job
	})
	if err != nil && t.book != nil {
		t.book.Error("run %s: persist state for job %s: %v", t.state.RunID, id, err)
	}
}

func (t *stateTracker) snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}
