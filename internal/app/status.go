package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vigil/internal/escalation"
	"vigil/internal/health"
	"vigil/internal/notifier"
	"vigil/internal/runtime/supervisor"
	"vigil/internal/task/scheduler"
)

// StatusDoc is the document written by the status.snapshot task and read
// by `vigil status`.
type StatusDoc struct {
	LastUpdate    time.Time               `json:"last_update"`
	State         escalation.State        `json:"state"`
	Label         string                  `json:"label"`
	Health        float64                 `json:"health"`
	CPU           float64                 `json:"cpu"`
	Memory        float64                 `json:"memory"`
	Disk          float64                 `json:"disk"`
	LastActivity  time.Time               `json:"last_activity"`
	SinceActivity string                  `json:"since_activity"`
	SampleError   string                  `json:"sample_error,omitempty"`
	ErrorCount    int                     `json:"error_count"`
	RecentErrors  []string                `json:"recent_errors,omitempty"`
	Emergency     bool                    `json:"emergency"`
	EpisodeID     string                  `json:"episode_id,omitempty"`
	LastDistress  *escalation.Distress    `json:"last_distress,omitempty"`
	Thresholds    escalation.Thresholds   `json:"thresholds"`
	Channels      []string                `json:"channels,omitempty"`
	Notifications []notifier.HistoryItem  `json:"notifications,omitempty"`
	Tasks         []scheduler.TaskInfo    `json:"tasks"`
	Recent        []scheduler.HistoryItem `json:"recent,omitempty"`
	Goroutines    supervisor.Counters     `json:"goroutines"`
}

const statusRecent = 20

// Status assembles the current status document.
func (a *App) Status(now time.Time) StatusDoc {
	h := a.monitor.Latest()
	es := a.machine.Status()
	snap := a.sched.Snapshot()

	since := h.SinceActivity
	if last := a.monitor.LastActivity(); !last.IsZero() {
		since = now.Sub(last)
	}
	doc := StatusDoc{
		LastUpdate:    now,
		State:         es.State,
		Label:         es.Label,
		Health:        healthScore(h, es),
		CPU:           h.CPUPercent,
		Memory:        h.MemoryPercent,
		Disk:          h.DiskPercent,
		LastActivity:  a.monitor.LastActivity(),
		SinceActivity: since.Round(time.Second).String(),
		SampleError:   h.SampleErr,
		ErrorCount:    es.ErrorCount,
		RecentErrors:  es.RecentErrors,
		Emergency:     es.State != escalation.Normal,
		EpisodeID:     es.EpisodeID,
		LastDistress:  es.LastDistress,
		Thresholds:    es.Thresholds,
		Tasks:         snap.Tasks,
		Goroutines:    a.sup.Counters(),
	}
	if n := len(snap.History); n > statusRecent {
		doc.Recent = snap.History[n-statusRecent:]
	} else {
		doc.Recent = snap.History
	}
	if a.notif != nil {
		doc.Channels = a.notif.Channels()
		doc.Notifications = a.notif.History()
	}
	return doc
}

// WriteStatus replaces path atomically with doc.
func WriteStatus(path string, doc StatusDoc) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode status: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadStatus(path string) (StatusDoc, error) {
	var doc StatusDoc
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode status %s: %w", path, err)
	}
	return doc, nil
}

// statusSource feeds the inspect server.
type statusSource struct{ a *App }

func (s statusSource) Healthy() bool  { return s.a.machine.State() == escalation.Normal }
func (s statusSource) StatusDoc() any { return s.a.Status(time.Now()) }

// healthScore prefers the monitor's score, which keeps decaying while the
// sampler fails. The machine's score covers the time before the first cycle.
func healthScore(h health.Snapshot, es escalation.Status) float64 {
	if h.Time.IsZero() {
		return es.LastScore
	}
	return h.Score
}
