package eventbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/run"
	"github.com/kingrea/gantry/internal/workflow"
)

// RunStarter launches a run for a workflow the delivery matched. The run
// engine satisfies this directly.
type RunStarter interface {
	Run(ctx context.Context, def workflow.Definition, record run.EventRecord) (run.State, error)
}

// Dispatcher turns accepted deliveries into runs: it evaluates every
// workflow's trigger filters against the delivery and starts a run for each
// match. Non-matches are ordinary outcomes, reported via status events.
type Dispatcher struct {
	cfg     *config.Config
	starter RunStarter
	router  *Router
	logger  Logger
	clock   func() time.Time
	wg      sync.WaitGroup
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// DispatcherWithRouter publishes status events through the given router.
func DispatcherWithRouter(router *Router) DispatcherOption {
	return func(d *Dispatcher) {
		if router != nil {
			d.router = router
		}
	}
}

// DispatcherWithLogger routes dispatcher diagnostics to the given logger.
func DispatcherWithLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// DispatcherWithClock injects a deterministic clock (primarily for tests).
func DispatcherWithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDispatcher wires a dispatcher to the project configuration and the run
// starter.
func NewDispatcher(cfg *config.Config, starter RunStarter, opts ...DispatcherOption) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("eventbridge: config is required")
	}
	if starter == nil {
		return nil, fmt.Errorf("eventbridge: run starter is required")
	}
	d := &Dispatcher{
		cfg:     cfg,
		starter: starter,
		router:  NewRouter(),
		logger:  nopLogger{},
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Router exposes the status event router for subscribers.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// HandleEvent evaluates the delivery against every workflow in the project
// and starts runs for the matches. Runs execute in the background; the error
// return covers only failures to enumerate the workflows.
func (d *Dispatcher) HandleEvent(event Event) error {
	defs, err := workflow.LoadDefinitionDir(d.cfg.WorkflowsDir())
	if err != nil {
		return err
	}
	matched := 0
	for _, def := range defs {
		decision := workflow.Evaluate(def, event.WorkflowEvent())
		if !decision.Matched {
			d.logger.Printf("eventbridge: delivery %s skips %q: %s", event.DeliveryID, def.Name, decision.Reason)
			d.publish(StatusEvent{
				ID:       event.DeliveryID + ":" + def.Name + ":skipped",
				Type:     StatusWorkflowSkipped,
				Workflow: def.Name,
				Message:  decision.Reason,
			})
			continue
		}
		matched++
		d.logger.Printf("eventbridge: delivery %s matches %q", event.DeliveryID, def.Name)
		d.publish(StatusEvent{
			ID:       event.DeliveryID + ":" + def.Name + ":started",
			Type:     StatusRunStarted,
			Workflow: def.Name,
		})
		d.wg.Add(1)
		go d.execute(def, event)
	}
	if matched == 0 {
		d.logger.Printf("eventbridge: delivery %s matched no workflows", event.DeliveryID)
	}
	return nil
}

func (d *Dispatcher) execute(def workflow.Definition, event Event) {
	defer d.wg.Done()
	state, err := d.starter.Run(context.Background(), def, event.RunRecord())
	if err != nil {
		d.logger.Printf("eventbridge: run for %q failed to start: %v", def.Name, err)
		d.publish(StatusEvent{
			ID:       event.DeliveryID + ":" + def.Name + ":error",
			Type:     StatusError,
			Workflow: def.Name,
			Message:  err.Error(),
		})
		return
	}
	d.logger.Printf("eventbridge: run %s finished: %s", state.RunID, state.Status)
	d.publish(StatusEvent{
		ID:       event.DeliveryID + ":" + def.Name + ":finished",
		Type:     StatusRunFinished,
		Workflow: def.Name,
		RunID:    state.RunID,
		Message:  string(state.Status),
	})
}

// Wait blocks until every in-flight run launched by this dispatcher returns.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) publish(event StatusEvent) {
	if d.router == nil {
		return
	}
	event.Time = d.clock()
	d.router.Publish(event)
}
