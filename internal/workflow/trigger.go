package workflow

import (
	"fmt"
	"strings"
)

// EventPullRequest is the only event kind gantry evaluates today.
const EventPullRequest = "pull_request"

// Event carries the facts of an incoming event that trigger filters inspect.
// BaseRef is the branch the change targets; ChangedFiles are repository-root
// relative paths touched by the change.
type Event struct {
	Kind         string
	Action       string
	BaseRef      string
	HeadRef      string
	HeadSHA      string
	ChangedFiles []string
}

// Decision records whether an event admits a workflow and why. A non-match is
// an ordinary outcome, never an error.
type Decision struct {
	Matched bool
	Reason  string
}

// Evaluate checks an event against the definition's trigger rules: the event
// kind must be declared, the base branch must pass the branch filters, and
// when path filters are declared at least one changed file must match one.
func Evaluate(def Definition, ev Event) Decision {
	if ev.Kind != EventPullRequest || def.On.PullRequest == nil {
		return Decision{Reason: fmt.Sprintf("workflow does not subscribe to %s events", nonEmpty(ev.Kind, "unknown"))}
	}
	rule := *def.On.PullRequest
	branch := BranchName(ev.BaseRef)
	if len(rule.Branches) > 0 && !matchAny(rule.Branches, branch) {
		return Decision{Reason: fmt.Sprintf("base branch %s matches no branch filter", branch)}
	}
	if len(rule.Paths) > 0 {
		matched := false
		for _, file := range ev.ChangedFiles {
			if matchAny(rule.Paths, file) {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Reason: "no changed file matches a path filter"}
		}
	}
	return Decision{Matched: true, Reason: "trigger filters satisfied"}
}

// BranchName strips a refs/heads/ prefix so filters compare plain branch
// names.
func BranchName(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "refs/heads/")
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
