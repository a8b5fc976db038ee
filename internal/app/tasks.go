package app

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"vigil/internal/config"
	"vigil/internal/ledger"
	"vigil/internal/task/scheduler"
	logx "vigil/pkg/logx"
)

const (
	taskStatusSnapshot = "status.snapshot"
	taskLedgerBeat     = "ledger.heartbeat"

	heartbeatInterval = time.Minute
	outputExcerpt     = 512
)

// registerTasks adds the built-in tasks and every task declared in cfg.
func (a *App) registerTasks(cfg *config.Config) error {
	if err := a.sched.AddTask(scheduler.Task{
		ID:       taskStatusSnapshot,
		Priority: scheduler.Low,
		Interval: a.statusInterval,
		Callback: a.writeStatus,
	}); err != nil {
		return err
	}
	if err := a.sched.AddTask(scheduler.Task{
		ID:       taskLedgerBeat,
		Priority: scheduler.Background,
		DueAt:    time.Now().Add(heartbeatInterval),
		Interval: heartbeatInterval,
		Callback: a.heartbeat,
	}); err != nil {
		return err
	}

	for _, tc := range cfg.Scheduler.Tasks {
		p, err := scheduler.ParsePriority(tc.Priority)
		if err != nil {
			return fmt.Errorf("task %s: %w", tc.ID, err)
		}
		timeout, err := config.ParseDurationField("scheduler.tasks."+tc.ID+".timeout", tc.Timeout)
		if err != nil {
			return err
		}
		if err := a.sched.AddSchedule(tc.ID, p, tc.Schedule, timeout, commandTask(tc)); err != nil {
			return fmt.Errorf("task %s: %w", tc.ID, err)
		}
		a.log.Info("task registered",
			logx.String("id", tc.ID),
			logx.String("priority", p.String()),
			logx.String("schedule", tc.Schedule),
		)
	}
	return nil
}

// commandTask runs tc.Command; a non-zero exit fails the task with an
// excerpt of its output.
func commandTask(tc config.TaskConfig) scheduler.Callback {
	args := append([]string(nil), tc.Args...)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, tc.Command, args...)
		cmd.Dir = tc.Dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			if msg := excerpt(out.String(), outputExcerpt); msg != "" {
				return fmt.Errorf("%s: %w: %s", tc.Command, err, msg)
			}
			return fmt.Errorf("%s: %w", tc.Command, err)
		}
		return nil
	}
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}

func (a *App) writeStatus(context.Context) error {
	return WriteStatus(a.statusPath, a.Status(time.Now()))
}

func (a *App) heartbeat(context.Context) error {
	h := a.monitor.Latest()
	es := a.machine.Status()
	a.rec.Record(ledger.ComponentCognitive, "heartbeat", map[string]any{
		"state":  es.State.String(),
		"label":  es.Label,
		"health": healthScore(h, es),
		"cpu":    h.CPUPercent,
		"memory": h.MemoryPercent,
		"tasks":  a.sched.Len(),
		"errors": es.ErrorCount,
	})
	return nil
}
