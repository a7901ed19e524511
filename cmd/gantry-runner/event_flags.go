package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/gantry/internal/eventbridge"
	"github.com/kingrea/gantry/internal/workflow"
)

// eventFlags collects the synthetic delivery facts the trigger and run
// commands accept.
type eventFlags struct {
	kind    *string
	action  *string
	repo    *string
	baseRef *string
	headRef *string
	sha     *string
	changed stringListFlag
}

func bindEventFlags(fs *flag.FlagSet) *eventFlags {
	ev := &eventFlags{
		kind:    fs.String("kind", workflow.EventPullRequest, "event kind"),
		action:  fs.String("action", "synchronize", "event action"),
		repo:    fs.String("repo", "", "repository the event belongs to"),
		baseRef: fs.String("base-ref", "", "branch the change targets (defaults to the project base branch)"),
		headRef: fs.String("head-ref", "", "branch the change comes from"),
		sha:     fs.String("sha", "", "head commit SHA"),
	}
	fs.Var(&ev.changed, "changed", "changed file path (repeatable)")
	return ev
}

// build normalizes the flags into a validated bridge event. An empty
// base-ref falls back to the project's configured base branch.
func (ev *eventFlags) build(defaultBase string) eventbridge.Event {
	baseRef := strings.TrimSpace(*ev.baseRef)
	if baseRef == "" {
		baseRef = defaultBase
	}
	event := eventbridge.Event{
		Kind:         *ev.kind,
		Action:       *ev.action,
		Repo:         *ev.repo,
		BaseRef:      baseRef,
		HeadRef:      *ev.headRef,
		HeadSHA:      *ev.sha,
		ChangedFiles: ev.changed,
		Sender:       "gantry-runner",
	}
	event.Normalize()
	event.StampServerTime(time.Now())
	if err := event.Validate(); err != nil {
		die("invalid event: %v", err)
	}
	return event
}

type stringListFlag []string

func (l *stringListFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ", ")
}

func (l *stringListFlag) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("changed file path is empty")
	}
	*l = append(*l, trimmed)
	return nil
}
