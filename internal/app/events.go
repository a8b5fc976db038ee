package app

import (
	"context"
	"fmt"

	"vigil/internal/escalation"
	"vigil/internal/eventbus"
	"vigil/internal/health"
	"vigil/internal/ledger"
	"vigil/internal/notifier"
	"vigil/internal/task/scheduler"
	logx "vigil/pkg/logx"
)

// builtin tasks run every few seconds; their successes are not worth a
// ledger line.
var quietTasks = map[string]bool{taskStatusSnapshot: true, taskLedgerBeat: true}

// recordEvents copies bus events into the ledger until ctx is done.
func (a *App) recordEvents(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.recordEvent(e)
		}
	}
}

func (a *App) recordEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case scheduler.TaskEvent:
		// The label tracks completed work; the built-ins alternate, so a
		// live scheduler changes it at least once per heartbeat interval.
		if a.machine != nil {
			a.machine.UpdateState("ran " + d.ID)
		}
		if e.Type == eventbus.TaskFinished && quietTasks[d.ID] {
			return
		}
		f := map[string]any{"id": d.ID, "priority": d.Priority, "duration": d.Duration.String()}
		desc := "task finished"
		if d.Error != "" {
			desc = "task failed"
			f["error"] = d.Error
		}
		a.rec.RecordAt(ledger.ComponentTasks, e.Time, desc, f)

	case scheduler.DelayedEvent:
		f := map[string]any{"id": d.ID, "since": d.Since.String()}
		if d.Cron != "" {
			f["cron"] = d.Cron
		} else {
			f["interval"] = d.Interval.String()
		}
		a.rec.RecordAt(ledger.ComponentTasks, e.Time, "task delayed", f)

	case health.HighUsageEvent:
		a.rec.RecordAt(ledger.ComponentEmergency, e.Time, "high resource usage", map[string]any{
			"cpu": d.CPUPercent, "memory": d.MemoryPercent, "limit": d.Limit,
		})

	case health.Snapshot:
		if e.Type != eventbus.HealthSampleFail {
			return
		}
		a.rec.RecordAt(ledger.ComponentCognitive, e.Time, "health sample failed", map[string]any{
			"error": d.SampleErr, "failures": d.Failures, "score": d.Score,
		})

	case escalation.Transition:
		desc := "state " + d.From.String() + " -> " + d.To.String()
		a.rec.RecordAt(ledger.ComponentEmergency, e.Time, desc, map[string]any{
			"episode": d.EpisodeID, "reason": d.Reason, "score": d.Score,
		})
		if _, err := a.sd.Status(fmt.Sprintf("state=%s score=%.1f", d.To, d.Score)); err != nil {
			a.log.Debug("sd_notify status failed", logx.Err(err))
		}

	case escalation.Report:
		a.rec.RecordAt(ledger.ComponentEmergency, e.Time, "distress notification failed", map[string]any{
			"episode": d.EpisodeID, "reason": d.Reason,
		})

	case notifier.NotificationEvent:
		f := map[string]any{"episode": d.EpisodeID}
		if d.Channel != "" {
			f["channel"] = d.Channel
		}
		if d.Error != "" {
			f["error"] = d.Error
		}
		a.rec.RecordAt(ledger.ComponentEmergency, e.Time, e.Type, f)
	}
}
