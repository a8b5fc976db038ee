package escalation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/eventbus"
	"vigil/internal/metrics"
	logx "vigil/pkg/logx"
)

const (
	maxErrorExcerpts = 20
	reportErrors     = 5
)

type Option func(*Machine)

// WithNotifier sets where episode reports are sent.
func WithNotifier(n Notifier) Option { return func(m *Machine) { m.notifier = n } }

func WithBus(b eventbus.Bus) Option { return func(m *Machine) { m.bus = b } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Machine) { m.metrics = mt } }

// WithClock overrides the time source used by UpdateState and New.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine is the escalation state machine. It is the only writer of the
// state, the effective thresholds and the error window.
type Machine struct {
	cfg      Config
	log      logx.Logger
	notifier Notifier
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	now      func() time.Time

	mu              sync.Mutex
	state           State
	label           string
	episode         string
	thresholds      Thresholds
	lastDistress    *Distress
	lastStateChange time.Time
	lastActivity    time.Time
	lastScore       float64
	errTimes        []time.Time
	errMsgs         []string
	notifications   uint64

	notifyWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger, opts ...Option) *Machine {
	cfg = cfg.withDefaults()
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	m := &Machine{cfg: cfg, log: log, now: time.Now, label: "initializing", lastScore: 100}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.thresholds = cfg.Baseline
	m.lastStateChange = m.now()
	return m
}

// pending collects side effects computed under the lock.
type pending struct {
	transitions []Transition
	report      *Report
}

// Evaluate runs one monitor cycle. While Normal the triggers are checked;
// while in emergency only recovery is considered.
func (m *Machine) Evaluate(ctx context.Context, obs Observation) State {
	m.mu.Lock()
	m.pruneLocked(obs.Time)
	m.lastScore = obs.Score
	if !obs.LastActivity.IsZero() {
		m.lastActivity = obs.LastActivity
	}

	var p pending
	switch m.state {
	case Normal:
		if reason := m.triggerLocked(obs); reason != "" {
			p = m.escalateLocked(obs.Time, reason)
		}
	default:
		if obs.Score > m.cfg.RecoverAbove {
			p = m.recoverLocked(obs.Time, obs.Score)
		}
	}
	st := m.state
	m.mu.Unlock()

	m.dispatch(ctx, p)
	return st
}

// RecordError appends to the error-rate window and escalates immediately
// once the window holds ErrorCountThreshold entries.
func (m *Machine) RecordError(now time.Time, msg string) {
	m.mu.Lock()
	m.errTimes = append(m.errTimes, now)
	m.errMsgs = append(m.errMsgs, now.UTC().Format(time.RFC3339)+": "+msg)
	if len(m.errMsgs) > maxErrorExcerpts {
		m.errMsgs = m.errMsgs[len(m.errMsgs)-maxErrorExcerpts:]
	}
	m.pruneLocked(now)

	var p pending
	if m.state == Normal && len(m.errTimes) >= m.thresholds.ErrorCountThreshold {
		p = m.escalateLocked(now, fmt.Sprintf("High error rate: %d errors in %s", len(m.errTimes), m.cfg.ErrorWindow))
	}
	m.mu.Unlock()

	m.dispatch(context.Background(), p)
}

// UpdateState sets the operating-state label. A change restarts the stuck timer.
func (m *Machine) UpdateState(label string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == m.label {
		return
	}
	m.log.Debug("state label changed", logx.String("from", m.label), logx.String("to", label))
	m.label = label
	m.lastStateChange = now
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:           m.state,
		Label:           m.label,
		EpisodeID:       m.episode,
		Thresholds:      m.thresholds,
		LastStateChange: m.lastStateChange,
		LastScore:       m.lastScore,
		ErrorCount:      len(m.errTimes),
		RecentErrors:    append([]string(nil), m.errMsgs...),
		Notifications:   m.notifications,
	}
	if m.lastDistress != nil {
		d := *m.lastDistress
		st.LastDistress = &d
	}
	return st
}

// Flush waits for in-flight notifications (bounded by ctx).
func (m *Machine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(m.errTimes) && now.Sub(m.errTimes[cut]) >= m.cfg.ErrorWindow {
		cut++
	}
	if cut > 0 {
		m.errTimes = append(m.errTimes[:0], m.errTimes[cut:]...)
	}
}

func (m *Machine) triggerLocked(obs Observation) string {
	th := m.thresholds
	switch {
	case obs.CPUPercent > th.CPUCritical:
		return fmt.Sprintf("Critical condition: CPU=%.1f%% (limit %.1f%%)", obs.CPUPercent, th.CPUCritical)
	case obs.MemoryPercent > th.MemoryCritical:
		return fmt.Sprintf("Critical condition: Memory=%.1f%% (limit %.1f%%)", obs.MemoryPercent, th.MemoryCritical)
	case obs.SinceActivity > th.ResponseTimeout:
		return fmt.Sprintf("Critical condition: Inactive=%.0fs (limit %s)", obs.SinceActivity.Seconds(), th.ResponseTimeout)
	case th.StuckTimeout > 0 && obs.Time.Sub(m.lastStateChange) > th.StuckTimeout:
		return fmt.Sprintf("Critical condition: no state change for %.0fs (state %q)", obs.Time.Sub(m.lastStateChange).Seconds(), m.label)
	case len(m.errTimes) >= th.ErrorCountThreshold:
		return fmt.Sprintf("High error rate: %d errors in %s", len(m.errTimes), m.cfg.ErrorWindow)
	}
	return ""
}

// escalateLocked moves Normal -> Distressed -> Emergency in one step and
// prepares the single notification for the episode.
func (m *Machine) escalateLocked(now time.Time, reason string) pending {
	m.episode = uuid.NewString()
	m.lastDistress = &Distress{Time: now, Reason: reason}
	m.thresholds.CPUCritical = m.cfg.TightenedCPU
	m.thresholds.MemoryCritical = m.cfg.TightenedMemory
	m.state = Emergency
	m.lastStateChange = now

	errs := m.errMsgs
	if len(errs) > reportErrors {
		errs = errs[len(errs)-reportErrors:]
	}
	r := Report{
		EpisodeID:    m.episode,
		Time:         now,
		Host:         m.cfg.Host,
		Reason:       reason,
		State:        Emergency,
		Label:        m.label,
		Score:        m.lastScore,
		LastActivity: m.lastActivity,
		Errors:       append([]string(nil), errs...),
	}
	return pending{
		transitions: []Transition{
			{EpisodeID: m.episode, From: Normal, To: Distressed, Time: now, Reason: reason, Score: m.lastScore},
			{EpisodeID: m.episode, From: Distressed, To: Emergency, Time: now, Reason: reason, Score: m.lastScore},
		},
		report: &r,
	}
}

func (m *Machine) recoverLocked(now time.Time, score float64) pending {
	from := m.state
	ep := m.episode
	m.state = Normal
	m.thresholds = m.cfg.Baseline
	m.lastDistress = nil
	m.episode = ""
	m.errTimes = m.errTimes[:0]
	m.errMsgs = nil
	m.lastStateChange = now
	return pending{transitions: []Transition{
		{EpisodeID: ep, From: from, To: Normal, Time: now, Reason: fmt.Sprintf("health recovered to %.1f", score), Score: score},
	}}
}

func (m *Machine) dispatch(ctx context.Context, p pending) {
	for _, tr := range p.transitions {
		typ := eventbus.EscalationRecovered
		switch tr.To {
		case Distressed:
			typ = eventbus.EscalationDistressed
		case Emergency:
			typ = eventbus.EscalationEmergency
		}
		if tr.To == Normal {
			m.log.Info("leaving emergency mode", logx.String("episode", tr.EpisodeID), logx.Float64("score", tr.Score))
		} else {
			m.log.Warn("escalation", logx.String("from", tr.From.String()), logx.String("to", tr.To.String()), logx.String("reason", tr.Reason), logx.String("episode", tr.EpisodeID))
		}
		m.metrics.Escalation(ctx, tr.From.String(), tr.To.String())
		eventbus.Publish(m.bus, typ, tr.Time, tr)
	}
	if p.report == nil || m.notifier == nil {
		return
	}

	r := *p.report
	base := context.WithoutCancel(ctx)
	m.notifyWG.Add(1)
	go func() {
		defer m.notifyWG.Done()
		nctx, cancel := context.WithTimeout(base, m.cfg.NotifyTimeout)
		defer cancel()

		delivered := m.send(nctx, r)
		m.metrics.Notification(nctx, delivered)
		m.mu.Lock()
		m.notifications++
		m.mu.Unlock()
		if !delivered {
			m.log.Error("distress notification failed", logx.String("episode", r.EpisodeID))
			eventbus.Publish(m.bus, eventbus.NotificationFailed, time.Now(), r)
			return
		}
		m.log.Info("distress notification sent", logx.String("episode", r.EpisodeID))
	}()
}

func (m *Machine) send(ctx context.Context, r Report) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("notifier panicked", logx.Any("panic", rec))
			ok = false
		}
	}()
	return m.notifier.Send(ctx, r)
}
