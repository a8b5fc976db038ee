package ledger

import (
	"context"
	"time"

	logx "vigil/pkg/logx"
)

// Recorder is the write-only, best-effort face of a Store. Failures are
// logged and never returned. A nil *Recorder discards everything.
type Recorder struct {
	store   Store
	log     logx.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if store == nil {
		return nil
	}
	return &Recorder{store: store, log: log, timeout: 2 * time.Second, now: time.Now}
}

// Record appends description (plus optional context) to component.
func (r *Recorder) Record(component, description string, fields map[string]any) {
	r.RecordAt(component, time.Time{}, description, fields)
}

func (r *Recorder) RecordAt(component string, at time.Time, description string, fields map[string]any) {
	if r == nil {
		return
	}
	if at.IsZero() {
		at = r.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Append(ctx, component, Record{Time: at, Description: description, Context: fields}); err != nil {
		r.log.Warn("ledger append failed", logx.String("component", component), logx.Err(err))
	}
}
