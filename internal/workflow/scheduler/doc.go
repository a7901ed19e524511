// Package scheduler turns plan snapshots into runnable batches that respect
// dependency order plus runtime constraints such as concurrency limits. It is
// a thin layer the run engine calls to decide which job instances to execute
// next without re-implementing filtering logic.
package scheduler
