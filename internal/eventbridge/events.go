package eventbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/gantry/internal/run"
	"github.com/kingrea/gantry/internal/workflow"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound delivery version.
	EventSchemaVersion = 1
)

// Event is one inbound delivery: the facts of a pull request change posted to
// the bridge by a forge webhook relay or by gantry's own CLI and watcher.
type Event struct {
	Version      int       `json:"version"`
	DeliveryID   string    `json:"delivery_id"`
	Kind         string    `json:"kind"`
	Action       string    `json:"action,omitempty"`
	Repo         string    `json:"repo,omitempty"`
	BaseRef      string    `json:"base_ref"`
	HeadRef      string    `json:"head_ref,omitempty"`
	HeadSHA      string    `json:"head_sha,omitempty"`
	ChangedFiles []string  `json:"changed_files,omitempty"`
	Sender       string    `json:"sender,omitempty"`
	ClientTime   time.Time `json:"client_time,omitempty"`
	ServerTime   time.Time `json:"server_time,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
// Deliveries without an ID get one assigned so dedupe always has a key.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.DeliveryID = strings.TrimSpace(e.DeliveryID)
	if e.DeliveryID == "" {
		e.DeliveryID = uuid.NewString()
	}
	e.Kind = strings.TrimSpace(e.Kind)
	if e.Kind == "" {
		e.Kind = workflow.EventPullRequest
	}
	e.Action = strings.TrimSpace(e.Action)
	e.Repo = strings.TrimSpace(e.Repo)
	e.BaseRef = strings.TrimSpace(e.BaseRef)
	e.HeadRef = strings.TrimSpace(e.HeadRef)
	e.HeadSHA = strings.TrimSpace(e.HeadSHA)
	e.Sender = strings.TrimSpace(e.Sender)
	files := e.ChangedFiles[:0]
	for _, file := range e.ChangedFiles {
		if trimmed := strings.TrimSpace(file); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	e.ChangedFiles = files
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming deliveries.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.DeliveryID == "" {
		return errors.New("delivery_id is required")
	}
	if e.Kind == "" {
		return errors.New("kind is required")
	}
	if e.Kind == workflow.EventPullRequest && e.BaseRef == "" {
		return errors.New("base_ref is required for pull_request deliveries")
	}
	return nil
}

// WorkflowEvent converts the delivery into the shape trigger filters inspect.
func (e Event) WorkflowEvent() workflow.Event {
	return workflow.Event{
		Kind:         e.Kind,
		Action:       e.Action,
		BaseRef:      e.BaseRef,
		HeadRef:      e.HeadRef,
		HeadSHA:      e.HeadSHA,
		ChangedFiles: append([]string(nil), e.ChangedFiles...),
	}
}

// RunRecord converts the delivery into the record pinned into run state.
func (e Event) RunRecord() run.EventRecord {
	return run.EventRecord{
		DeliveryID:   e.DeliveryID,
		Kind:         e.Kind,
		Action:       e.Action,
		Repo:         e.Repo,
		BaseRef:      e.BaseRef,
		HeadRef:      e.HeadRef,
		HeadSHA:      e.HeadSHA,
		ChangedFiles: append([]string(nil), e.ChangedFiles...),
	}
}

// EventProcessor consumes validated deliveries.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	DeliveryID string    `json:"delivery_id"`
	ServerTime time.Time `json:"server_time"`
}
