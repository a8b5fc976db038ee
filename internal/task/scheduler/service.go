package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vigil/internal/eventbus"
	"vigil/internal/metrics"
	"vigil/internal/runtime/supervisor"
	logx "vigil/pkg/logx"
)

const (
	defaultTick        = 100 * time.Millisecond
	defaultHistorySize = 200
)

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithErrorSink forwards callback failures (message excerpt + tick time).
func WithErrorSink(sink ErrorSink) Option { return func(s *Service) { s.sink = sink } }

// WithActivity registers a hook invoked after every successful callback.
func WithActivity(fn func()) Option { return func(s *Service) { s.activity = fn } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// Service is the scheduler core. All methods are safe for concurrent use.
type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	bus      eventbus.Bus
	sink     ErrorSink
	activity func()
	metrics  *metrics.Metrics

	mu      sync.Mutex
	tasks   map[string]*entry
	queue   dueQueue
	seq     uint64
	runs    uint64
	fails   uint64
	history []HistoryItem

	// tickMu serializes RunTick so batches never interleave.
	tickMu sync.Mutex

	lmu     sync.Mutex
	sup     *supervisor.Supervisor
	running bool
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		parser: cronParser,
		tasks:  map[string]*entry{},
	}
	s.loc = s.loadLocation()
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// AddTask registers t. The id must be unique among registered tasks,
// including one whose callback is currently running.
func (s *Service) AddTask(t Task) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidTask)
	}
	if t.Callback == nil {
		return fmt.Errorf("%w: %s: callback required", ErrInvalidTask, t.ID)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %s: %s", ErrInvalidTask, t.ID, t.Priority)
	}
	if t.Interval < 0 || t.Timeout < 0 {
		return fmt.Errorf("%w: %s: negative interval or timeout", ErrInvalidTask, t.ID)
	}

	e := &entry{task: t, index: -1}
	if c := strings.TrimSpace(t.Cron); c != "" {
		if t.Interval > 0 {
			return fmt.Errorf("%w: %s: both cron and interval set", ErrInvalidTask, t.ID)
		}
		sched, err := s.parser.Parse(c)
		if err != nil {
			return fmt.Errorf("%w: %s: cron %q: %v", ErrInvalidTask, t.ID, c, err)
		}
		e.sched = sched
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	e.due = t.DueAt
	if e.due.IsZero() {
		now := time.Now()
		if e.sched != nil {
			e.due = e.sched.Next(now.In(s.loc))
		} else {
			e.due = now
		}
	}
	s.seq++
	e.seq = s.seq
	s.tasks[t.ID] = e
	s.queue.push(e)
	s.log.Debug("task.added", logx.String("task", t.ID), logx.String("priority", t.Priority.String()), logx.Time("due", e.due), logx.Duration("interval", t.Interval), logx.String("cron", t.Cron))
	return nil
}

// AddSchedule registers a periodic task from a schedule string
// (cron expression, Go duration or HH:MM interval).
func (s *Service) AddSchedule(id string, p Priority, schedule string, timeout time.Duration, cb Callback) error {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTask, id, err)
	}
	t := Task{ID: id, Priority: p, Timeout: timeout, Callback: cb}
	switch spec.Kind {
	case SpecCron:
		t.Cron = spec.Cron
	default:
		t.Interval = spec.Every
		t.DueAt = time.Now().Add(spec.Every)
	}
	return s.AddTask(t)
}

// RemoveTask reports whether id was registered. An in-flight callback is not
// interrupted but its task will not be re-armed.
func (s *Service) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return false
	}
	delete(s.tasks, id)
	e.removed = true
	s.queue.remove(e)
	s.log.Debug("task.removed", logx.String("task", id), logx.Bool("in_flight", e.inFlight))
	return true
}

// RunTick executes every task due at or before now, highest priority first,
// and returns the outcomes in execution order. If ctx is canceled mid-batch
// the tasks not yet started are put back unchanged.
func (s *Service) RunTick(ctx context.Context, now time.Time) []Outcome {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	batch := s.queue.popDue(now)
	for _, e := range batch {
		e.inFlight = true
	}
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	sort.SliceStable(batch, byPriority(batch))

	out := make([]Outcome, 0, len(batch))
	for i, e := range batch {
		if ctx.Err() != nil {
			s.requeue(batch[i:])
			break
		}
		s.mu.Lock()
		skip := e.removed
		t := e.task
		due := e.due
		if skip {
			e.inFlight = false
		} else {
			e.lastAttempt = now
		}
		s.mu.Unlock()
		if skip {
			continue
		}

		start := time.Now()
		late, err := s.invoke(ctx, t)
		o := Outcome{ID: t.ID, Priority: t.Priority, DueAt: due, Started: start, Duration: time.Since(start), Success: err == nil, Err: err}
		s.finish(e, o, now, late)
		out = append(out, o)
	}
	return out
}

func (s *Service) requeue(rest []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range rest {
		e.inFlight = false
		if !e.removed {
			s.queue.push(e)
		}
	}
}

// finish records an outcome and re-arms periodic tasks. When the callback was
// abandoned (late != nil) the task stays in flight and is re-armed only after
// the callback returns, so two copies never overlap.
func (s *Service) finish(e *entry, o Outcome, now time.Time, late <-chan struct{}) {
	s.mu.Lock()
	e.inFlight = late != nil
	e.runs++
	s.runs++
	if o.Success {
		e.lastRun = now
	} else {
		e.failures++
		s.fails++
	}
	rearmed := false
	switch {
	case e.removed:
	case e.task.Periodic() && late != nil:
		go s.rearmWhenReturned(e, late, now, o.Started)
	case e.task.Periodic():
		e.due = nextDue(e, now, s.loc)
		s.queue.push(e)
		rearmed = true
	default:
		delete(s.tasks, e.task.ID)
		e.removed = true
	}

	item := HistoryItem{ID: o.ID, Priority: o.Priority, Started: o.Started, Duration: o.Duration}
	if o.Err != nil {
		item.Error = o.Err.Error()
	}
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	next := e.due
	s.mu.Unlock()

	ev := TaskEvent{ID: o.ID, Priority: o.Priority.String(), DueAt: o.DueAt, Started: o.Started, Duration: o.Duration, Error: item.Error}
	s.metrics.TaskRun(context.Background(), o.ID, ev.Priority, o.Duration, o.Success)

	if o.Err != nil {
		s.log.Warn("task.failed", logx.String("task", o.ID), logx.Err(o.Err), logx.Duration("dur", o.Duration), logx.Bool("rearmed", rearmed))
		eventbus.Publish(s.bus, eventbus.TaskFailed, time.Now(), ev)
		if s.sink != nil {
			s.sink.RecordError(now, fmt.Sprintf("task %s: %v", o.ID, o.Err))
		}
		return
	}
	if o.Duration >= 750*time.Millisecond {
		s.log.Info("task.completed", logx.String("task", o.ID), logx.Duration("dur", o.Duration), logx.Time("next", next))
	} else {
		s.log.Debug("task.completed", logx.String("task", o.ID), logx.Duration("dur", o.Duration), logx.Time("next", next))
	}
	eventbus.Publish(s.bus, eventbus.TaskFinished, time.Now(), ev)
	if s.activity != nil {
		s.activity()
	}
}

func (s *Service) rearmWhenReturned(e *entry, late <-chan struct{}, now, started time.Time) {
	<-late
	held := time.Since(started)
	s.mu.Lock()
	defer s.mu.Unlock()
	e.inFlight = false
	if e.removed {
		return
	}
	e.due = nextDue(e, now.Add(held), s.loc)
	s.queue.push(e)
	s.log.Debug("task.rearmed_after_abandon", logx.String("task", e.task.ID), logx.Duration("held", held), logx.Time("next", e.due))
}

// Tasks returns metadata copies of every registered task ordered by id.
func (s *Service) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.info(s.loc))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Service) Snapshot() Snapshot {
	tasks := s.Tasks()

	s.mu.Lock()
	snap := Snapshot{
		Tick:     s.cfg.Tick,
		Queued:   s.queue.Len(),
		Runs:     s.runs,
		Failures: s.fails,
		Tasks:    tasks,
		History:  append([]HistoryItem(nil), s.history...),
	}
	for _, e := range s.tasks {
		if e.inFlight {
			snap.InFlight++
		}
	}
	s.mu.Unlock()

	s.lmu.Lock()
	snap.Running = s.running
	s.lmu.Unlock()
	return snap
}

// Start launches the tick loop under a supervisor. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.running {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.running = true
	s.sup.GoRestart("scheduler.tick", s.loop, supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	s.log.Info("service started", logx.Duration("tick", s.cfg.Tick), logx.String("tz", s.loc.String()), logx.Int("tasks", s.Len()))
}

func (s *Service) loop(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.RunTick(ctx, now)
		}
	}
}

// Stop cancels the loop and waits for the current tick (bounded by ctx).
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.lmu.Lock()
	sup := s.sup
	s.sup = nil
	s.running = false
	s.lmu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}
