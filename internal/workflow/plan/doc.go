// Package plan expands a workflow definition into concrete job instances:
// one per matrix cell, linked by needs edges. It evaluates instance readiness
// from recorded outcomes so the scheduler and engine can decide what to run
// next without re-implementing dependency logic.
package plan
