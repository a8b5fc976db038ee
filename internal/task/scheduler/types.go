package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrInvalidTask   = errors.New("invalid task")
	ErrCallbackPanic = errors.New("callback panicked")
)

// Priority orders due tasks; lower values are more urgent.
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
	Background
)

var priorityNames = [...]string{"critical", "high", "medium", "low", "background"}

func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool { return p >= Critical && p <= Background }

// ParsePriority accepts the lower-case names ("high") or the numeric form ("1").
// An empty string yields Medium.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Medium, nil
	}
	for i, n := range priorityNames {
		if s == n || s == fmt.Sprint(i) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, s)
}

// Callback is the unit of work a task runs. The context carries the task
// timeout and is canceled when the scheduler stops.
type Callback func(ctx context.Context) error

// Task describes a schedulable unit of work.
//
// Interval > 0 or a non-empty Cron makes the task periodic; otherwise it runs
// once. A zero DueAt means "as soon as possible" (or the next cron slot).
type Task struct {
	ID       string
	Priority Priority
	DueAt    time.Time
	Interval time.Duration
	Cron     string
	// Timeout bounds one invocation (0 uses Config.DefaultTimeout). A
	// callback that outlives it is abandoned: the tick moves on and the run
	// counts as failed, but a periodic task is not re-armed until the
	// abandoned callback returns.
	Timeout  time.Duration
	Callback Callback
}

func (t Task) Periodic() bool { return t.Interval > 0 || strings.TrimSpace(t.Cron) != "" }

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	ID            string        `json:"id"`
	Priority      Priority      `json:"priority"`
	DueAt         time.Time     `json:"due_at"`
	Interval      time.Duration `json:"interval,omitempty"`
	Cron          string        `json:"cron,omitempty"`
	LastRunAt     time.Time     `json:"last_run_at,omitempty"`
	LastAttemptAt time.Time     `json:"last_attempt_at,omitempty"`
	// StaleAt is set for cron tasks that have succeeded at least once: the
	// second slot after LastRunAt. Past it, one full slot was missed.
	StaleAt       time.Time     `json:"stale_at,omitempty"`
	Runs          uint64        `json:"runs"`
	Failures      uint64        `json:"failures"`
	InFlight      bool          `json:"in_flight"`
}

// Outcome is the result of one callback invocation within a tick.
type Outcome struct {
	ID       string
	Priority Priority
	DueAt    time.Time
	Started  time.Time
	Duration time.Duration
	Success  bool
	Err      error
}

// ErrorSink receives callback failures (the escalation error-rate window).
type ErrorSink interface {
	RecordError(now time.Time, msg string)
}

// Config controls the scheduler.
type Config struct {
	// Tick is the cadence of the run loop started by Start.
	Tick time.Duration

	// DefaultTimeout applies when Task.Timeout is 0. 0 disables it.
	DefaultTimeout time.Duration

	HistorySize int
	Timezone    string // IANA TZ for cron tasks, e.g. "Europe/Berlin"
}

type HistoryItem struct {
	ID       string        `json:"id"`
	Priority Priority      `json:"priority"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TaskEvent is published on the event bus after every invocation.
type TaskEvent struct {
	ID       string        `json:"id"`
	Priority string        `json:"priority"`
	DueAt    time.Time     `json:"due_at"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// DelayedEvent is published by the health monitor for stale periodic tasks.
type DelayedEvent struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval,omitempty"`
	Cron     string        `json:"cron,omitempty"`
	Since    time.Duration `json:"since"`
}

type Snapshot struct {
	Running  bool
	Tick     time.Duration
	Queued   int
	InFlight int
	Runs     uint64
	Failures uint64
	Tasks    []TaskInfo
	History  []HistoryItem
}
