// Package scheduler owns the task set and decides what runs next.
//
// Tasks live in a min-heap keyed by due time. Each tick pops every due task
// and runs that batch in priority order, so a not-yet-due CRITICAL task never
// holds back a due BACKGROUND one. Periodic tasks are re-armed from their
// previous due time (no drift); one-shot tasks are discarded after one run.
//
// Callbacks run outside the scheduler lock. Failures are recorded as outcomes,
// forwarded to the configured ErrorSink and never unregister periodic tasks.
package scheduler
