package health

import (
	"context"
	"sync"
	"time"

	"vigil/internal/escalation"
	"vigil/internal/eventbus"
	"vigil/internal/metrics"
	"vigil/internal/runtime/supervisor"
	"vigil/internal/task/scheduler"
	logx "vigil/pkg/logx"
)

const failurePenalty = 10.0

// Snapshot is the latest health reading.
type Snapshot struct {
	Time          time.Time     `json:"time"`
	CPUPercent    float64       `json:"cpu"`
	MemoryPercent float64       `json:"memory"`
	DiskPercent   float64       `json:"disk"`
	Load1         float64       `json:"load1"`
	LastActivity  time.Time     `json:"last_activity"`
	SinceActivity time.Duration `json:"since_activity"`
	Score         float64       `json:"score"`
	SampleErr     string        `json:"sample_error,omitempty"`
	Failures      int           `json:"consecutive_failures,omitempty"`
}

type Config struct {
	Interval            time.Duration
	FailureBackoff      time.Duration
	FailureBackoffAfter int
	HighUsage           float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = 5 * time.Second
	}
	if c.FailureBackoffAfter <= 0 {
		c.FailureBackoffAfter = 3
	}
	if c.HighUsage <= 0 {
		c.HighUsage = usageKnee
	}
	return c
}

// TaskSource exposes read-only task metadata for delay detection.
type TaskSource interface {
	Tasks() []scheduler.TaskInfo
}

// Evaluator consumes each successful observation.
type Evaluator interface {
	Evaluate(ctx context.Context, obs escalation.Observation) escalation.State
}

// HighUsageEvent is published when cpu or memory crosses the high-usage mark.
type HighUsageEvent struct {
	CPUPercent    float64 `json:"cpu"`
	MemoryPercent float64 `json:"memory"`
	Limit         float64 `json:"limit"`
}

type Option func(*Monitor)

// WithTasks enables delayed-task detection against src.
func WithTasks(src TaskSource) Option { return func(m *Monitor) { m.tasks = src } }

// WithEvaluator receives an observation after every successful sample.
func WithEvaluator(ev Evaluator) Option { return func(m *Monitor) { m.eval = ev } }

func WithBus(b eventbus.Bus) Option { return func(m *Monitor) { m.bus = b } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// WithHeartbeat registers a hook called after every successful cycle
// (the systemd watchdog ping).
func WithHeartbeat(fn func()) Option { return func(m *Monitor) { m.heartbeat = fn } }

// Monitor samples resources on a fixed cadence and owns the health snapshot.
type Monitor struct {
	cfg     Config
	sampler Sampler
	log     logx.Logger

	tasks     TaskSource
	eval      Evaluator
	bus       eventbus.Bus
	metrics   *metrics.Metrics
	heartbeat func()

	mu           sync.Mutex
	lastActivity time.Time
	latest       Snapshot
	lastGood     float64
	failures     int
	delayed      map[string]time.Time // task id -> LastRunAt already reported

	lmu sync.Mutex
	sup *supervisor.Supervisor
}

func NewMonitor(cfg Config, sampler Sampler, log logx.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:          cfg.withDefaults(),
		sampler:      sampler,
		log:          log,
		lastActivity: time.Now(),
		lastGood:     100,
		latest:       Snapshot{Score: 100},
		delayed:      map[string]time.Time{},
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// NotifyActivity marks the process as alive now.
func (m *Monitor) NotifyActivity() { m.NotifyActivityAt(time.Now()) }

func (m *Monitor) NotifyActivityAt(t time.Time) {
	m.mu.Lock()
	if t.After(m.lastActivity) {
		m.lastActivity = t
	}
	m.mu.Unlock()
}

func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Latest returns the most recent snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Cycle performs one monitor iteration at now. A sampling error yields a
// degraded snapshot and skips escalation evaluation.
func (m *Monitor) Cycle(ctx context.Context, now time.Time) (Snapshot, error) {
	sample, err := m.sampler.Sample(ctx)

	m.mu.Lock()
	since := now.Sub(m.lastActivity)
	if since < 0 {
		since = 0
	}
	snap := Snapshot{Time: now, LastActivity: m.lastActivity, SinceActivity: since}
	if err != nil {
		m.failures++
		snap.Failures = m.failures
		snap.SampleErr = err.Error()
		snap.Score = clamp(m.lastGood-failurePenalty*float64(m.failures), 0, 100)
		m.latest = snap
		m.mu.Unlock()

		m.log.Warn("health sample failed", logx.Err(err), logx.Int("consecutive", snap.Failures), logx.Float64("score", snap.Score))
		m.metrics.SampleError(ctx)
		m.metrics.Health(ctx, snap.Score)
		eventbus.Publish(m.bus, eventbus.HealthSampleFail, now, snap)
		return snap, err
	}

	snap.CPUPercent = sample.CPUPercent
	snap.MemoryPercent = sample.MemoryPercent
	snap.DiskPercent = sample.DiskPercent
	snap.Load1 = sample.Load1
	snap.Score = Score(sample.CPUPercent, sample.MemoryPercent, since)
	if m.failures > 0 {
		m.log.Info("health sampling recovered", logx.Int("after_failures", m.failures))
	}
	m.failures = 0
	m.lastGood = snap.Score
	m.latest = snap
	m.mu.Unlock()

	m.log.Trace("health sampled", logx.Float64("cpu", snap.CPUPercent), logx.Float64("mem", snap.MemoryPercent), logx.Float64("score", snap.Score))
	m.metrics.Health(ctx, snap.Score)
	eventbus.Publish(m.bus, eventbus.HealthSampled, now, snap)

	if snap.CPUPercent > m.cfg.HighUsage || snap.MemoryPercent > m.cfg.HighUsage {
		m.log.Warn("high resource usage", logx.Float64("cpu", snap.CPUPercent), logx.Float64("mem", snap.MemoryPercent))
		eventbus.Publish(m.bus, eventbus.HealthHighUsage, now, HighUsageEvent{CPUPercent: snap.CPUPercent, MemoryPercent: snap.MemoryPercent, Limit: m.cfg.HighUsage})
	}

	m.checkDelayed(now)

	if m.eval != nil {
		m.eval.Evaluate(ctx, escalation.Observation{
			Time:          now,
			CPUPercent:    snap.CPUPercent,
			MemoryPercent: snap.MemoryPercent,
			LastActivity:  snap.LastActivity,
			SinceActivity: snap.SinceActivity,
			Score:         snap.Score,
		})
	}
	if m.heartbeat != nil {
		m.heartbeat()
	}
	return snap, nil
}

// checkDelayed reports periodic tasks whose last successful run is older than
// twice their interval, or, for cron tasks, older than two slots. Each stale
// run is reported once.
func (m *Monitor) checkDelayed(now time.Time) {
	if m.tasks == nil {
		return
	}
	infos := m.tasks.Tasks()
	seen := make(map[string]struct{}, len(infos))

	var events []scheduler.DelayedEvent
	m.mu.Lock()
	for _, ti := range infos {
		seen[ti.ID] = struct{}{}
		if ti.LastRunAt.IsZero() {
			continue
		}
		since := now.Sub(ti.LastRunAt)
		switch {
		case ti.Interval > 0:
			if since <= 2*ti.Interval {
				continue
			}
		case !ti.StaleAt.IsZero():
			if !now.After(ti.StaleAt) {
				continue
			}
		default:
			continue
		}
		if prev, ok := m.delayed[ti.ID]; ok && prev.Equal(ti.LastRunAt) {
			continue
		}
		m.delayed[ti.ID] = ti.LastRunAt
		events = append(events, scheduler.DelayedEvent{ID: ti.ID, Interval: ti.Interval, Cron: ti.Cron, Since: since})
	}
	for id := range m.delayed {
		if _, ok := seen[id]; !ok {
			delete(m.delayed, id)
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.log.Warn("task delayed", logx.String("task", ev.ID), logx.Duration("interval", ev.Interval), logx.String("cron", ev.Cron), logx.Duration("since_last_run", ev.Since))
		eventbus.Publish(m.bus, eventbus.TaskDelayed, now, ev)
	}
}

func (m *Monitor) nextWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures >= m.cfg.FailureBackoffAfter {
		return m.cfg.FailureBackoff
	}
	return m.cfg.Interval
}

// Start launches the sampling loop under a supervisor.
func (m *Monitor) Start(ctx context.Context) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	if m.sup != nil {
		return
	}
	m.sup = supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.sup.GoRestart("health.monitor", m.loop, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	m.log.Info("monitor started", logx.Duration("interval", m.cfg.Interval))
}

func (m *Monitor) loop(ctx context.Context) error {
	for {
		_, _ = m.Cycle(ctx, time.Now())
		t := time.NewTimer(m.nextWait())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.lmu.Lock()
	sup := m.sup
	m.sup = nil
	m.lmu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	m.log.Info("monitor stopped")
	return err
}
