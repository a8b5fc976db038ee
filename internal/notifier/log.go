package notifier

import (
	"context"

	"vigil/internal/escalation"
	logx "vigil/pkg/logx"
)

// Log writes the report as a structured warning. It always succeeds.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log { return &Log{log: log} }

func (l *Log) Name() string { return "log" }

func (l *Log) Deliver(_ context.Context, r escalation.Report) error {
	l.log.Warn("DISTRESS SIGNAL",
		logx.String("episode", r.EpisodeID),
		logx.String("reason", r.Reason),
		logx.Float64("score", r.Score),
		logx.String("state", r.State.String()),
		logx.Time("last_activity", r.LastActivity),
		logx.Any("errors", r.Errors),
	)
	return nil
}
