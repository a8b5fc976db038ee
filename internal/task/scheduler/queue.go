package scheduler

import (
	"container/heap"
	"time"

	"github.com/robfig/cron/v3"
)

// entry is the live state of one registered task.
type entry struct {
	task  Task
	sched cron.Schedule // non-nil for cron tasks

	due         time.Time
	lastRun     time.Time
	lastAttempt time.Time
	runs        uint64
	failures    uint64

	seq      uint64
	index    int // heap index, -1 when not queued
	inFlight bool
	removed  bool
}

func (e *entry) info(loc *time.Location) TaskInfo {
	ti := TaskInfo{
		ID:            e.task.ID,
		Priority:      e.task.Priority,
		DueAt:         e.due,
		Interval:      e.task.Interval,
		Cron:          e.task.Cron,
		LastRunAt:     e.lastRun,
		LastAttemptAt: e.lastAttempt,
		Runs:          e.runs,
		Failures:      e.failures,
		InFlight:      e.inFlight,
	}
	if e.sched != nil && !e.lastRun.IsZero() {
		ti.StaleAt = e.sched.Next(e.sched.Next(e.lastRun.In(loc)))
	}
	return ti
}

// dueQueue is a min-heap ordered by (due, priority, seq).
type dueQueue []*entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	return a.seq < b.seq
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *dueQueue) push(e *entry) { heap.Push(q, e) }

func (q *dueQueue) remove(e *entry) {
	if e.index >= 0 && e.index < len(*q) {
		heap.Remove(q, e.index)
	}
}

// popDue removes and returns every entry with due <= now.
func (q *dueQueue) popDue(now time.Time) []*entry {
	var out []*entry
	for q.Len() > 0 && !(*q)[0].due.After(now) {
		out = append(out, heap.Pop(q).(*entry))
	}
	return out
}

// byPriority orders a due batch for execution.
func byPriority(batch []*entry) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.task.Priority != b.task.Priority {
			return a.task.Priority < b.task.Priority
		}
		if !a.due.Equal(b.due) {
			return a.due.Before(b.due)
		}
		return a.seq < b.seq
	}
}

// nextDue computes the re-arm time of a periodic entry that ran for the tick at now.
// Interval tasks stay anchored to their schedule; missed slots are coalesced.
func nextDue(e *entry, now time.Time, loc *time.Location) time.Time {
	if e.sched != nil {
		return e.sched.Next(now.In(loc))
	}
	iv := e.task.Interval
	next := e.due.Add(iv)
	if !next.After(now) {
		missed := now.Sub(next)/iv + 1
		next = next.Add(missed * iv)
	}
	return next
}
