package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	logx "vigil/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func newTestService(opts ...Option) *Service {
	return New(Config{Timezone: "UTC"}, logx.Nop(), opts...)
}

func ok(context.Context) error { return nil }

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *sinkRecorder) RecordError(_ time.Time, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func taskInfo(t *testing.T, s *Service, id string) TaskInfo {
	t.Helper()
	for _, ti := range s.Tasks() {
		if ti.ID == id {
			return ti
		}
	}
	t.Fatalf("task %q not registered", id)
	return TaskInfo{}
}

func ids(out []Outcome) []string {
	r := make([]string, len(out))
	for i, o := range out {
		r[i] = o.ID
	}
	return r
}

func TestAddTaskRejectsDuplicatesAndInvalid(t *testing.T) {
	t.Parallel()
	s := newTestService()

	if err := s.AddTask(Task{ID: "a", DueAt: at(0), Callback: ok}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(Task{ID: "a", DueAt: at(5), Callback: ok}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}

	invalid := []Task{
		{ID: "", Callback: ok},
		{ID: "nocb"},
		{ID: "prio", Priority: Priority(9), Callback: ok},
		{ID: "neg", Interval: -time.Second, Callback: ok},
		{ID: "both", Interval: time.Second, Cron: "* * * * *", Callback: ok},
		{ID: "badcron", Cron: "not cron", Callback: ok},
	}
	for _, tk := range invalid {
		if err := s.AddTask(tk); !errors.Is(err, ErrInvalidTask) {
			t.Fatalf("AddTask(%q): expected ErrInvalidTask, got %v", tk.ID, err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
}

func TestRemoveTask(t *testing.T) {
	t.Parallel()
	s := newTestService()
	_ = s.AddTask(Task{ID: "a", DueAt: at(0), Interval: time.Second, Callback: ok})

	if !s.RemoveTask("a") {
		t.Fatalf("expected removal")
	}
	if s.RemoveTask("a") {
		t.Fatalf("second removal should report false")
	}
	if out := s.RunTick(context.Background(), at(10)); len(out) != 0 {
		t.Fatalf("removed task ran: %v", ids(out))
	}
}

func TestRunTickIntervalStaysAnchored(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.AddTask(Task{ID: "ping", Priority: High, DueAt: at(100), Interval: 10 * time.Second, Callback: ok}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	ctx := context.Background()

	if out := s.RunTick(ctx, at(99)); len(out) != 0 {
		t.Fatalf("ran before due: %v", ids(out))
	}
	if out := s.RunTick(ctx, at(100)); len(out) != 1 || !out[0].Success {
		t.Fatalf("tick 100: %+v", out)
	}
	if got := taskInfo(t, s, "ping"); !got.DueAt.Equal(at(110)) || !got.LastRunAt.Equal(at(100)) {
		t.Fatalf("after 100: due=%v last=%v", got.DueAt, got.LastRunAt)
	}
	if out := s.RunTick(ctx, at(105)); len(out) != 0 {
		t.Fatalf("tick 105 ran: %v", ids(out))
	}
	if out := s.RunTick(ctx, at(110)); len(out) != 1 {
		t.Fatalf("tick 110: %+v", out)
	}
	if got := taskInfo(t, s, "ping"); !got.DueAt.Equal(at(120)) || got.Runs != 2 {
		t.Fatalf("after 110: due=%v runs=%d", got.DueAt, got.Runs)
	}
}

func TestRunTickLateTickDoesNotDrift(t *testing.T) {
	t.Parallel()
	s := newTestService()
	_ = s.AddTask(Task{ID: "ping", DueAt: at(100), Interval: 10 * time.Second, Callback: ok})
	ctx := context.Background()

	s.RunTick(ctx, at(103))
	if got := taskInfo(t, s, "ping"); !got.DueAt.Equal(at(110)) {
		t.Fatalf("due=%v want %v", got.DueAt, at(110))
	}

	// far behind: missed slots coalesce into one run
	out := s.RunTick(ctx, at(135))
	if len(out) != 1 {
		t.Fatalf("expected a single run, got %d", len(out))
	}
	if got := taskInfo(t, s, "ping"); !got.DueAt.Equal(at(140)) {
		t.Fatalf("due=%v want %v", got.DueAt, at(140))
	}
}

func TestRunTickPriorityOrder(t *testing.T) {
	t.Parallel()
	s := newTestService()
	for _, p := range []Priority{Background, Low, Medium, High, Critical} {
		if err := s.AddTask(Task{ID: p.String(), Priority: p, DueAt: at(100), Callback: ok}); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	out := s.RunTick(context.Background(), at(100))
	want := []string{"critical", "high", "medium", "low", "background"}
	got := ids(out)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order=%v want %v", got, want)
	}
	if s.Len() != 0 {
		t.Fatalf("one-shot tasks not discarded, Len=%d", s.Len())
	}
	if out := s.RunTick(context.Background(), at(200)); len(out) != 0 {
		t.Fatalf("one-shot ran twice: %v", ids(out))
	}
}

func TestRunTickNoHeadOfLineBlocking(t *testing.T) {
	t.Parallel()
	s := newTestService()
	_ = s.AddTask(Task{ID: "urgent-later", Priority: Critical, DueAt: at(200), Callback: ok})
	_ = s.AddTask(Task{ID: "chore-now", Priority: Background, DueAt: at(100), Callback: ok})

	out := s.RunTick(context.Background(), at(150))
	if len(out) != 1 || out[0].ID != "chore-now" {
		t.Fatalf("got %v want [chore-now]", ids(out))
	}
	for _, o := range out {
		if o.DueAt.After(at(150)) {
			t.Fatalf("outcome for task not yet due: %+v", o)
		}
	}
}

func TestRunTickFailureRearmsAndReports(t *testing.T) {
	t.Parallel()
	sink := &sinkRecorder{}
	var activity atomic.Int32
	s := newTestService(WithErrorSink(sink), WithActivity(func() { activity.Add(1) }))

	boom := errors.New("boom")
	_ = s.AddTask(Task{ID: "flaky", DueAt: at(0), Interval: 5 * time.Second, Callback: func(context.Context) error { return boom }})
	_ = s.AddTask(Task{ID: "fine", DueAt: at(0), Callback: ok})

	out := s.RunTick(context.Background(), at(0))
	if len(out) != 2 {
		t.Fatalf("outcomes=%d want 2", len(out))
	}
	for _, o := range out {
		if o.ID == "flaky" && (o.Success || !errors.Is(o.Err, boom)) {
			t.Fatalf("flaky outcome: %+v", o)
		}
	}
	got := taskInfo(t, s, "flaky")
	if !got.DueAt.Equal(at(5)) || got.Failures != 1 || !got.LastRunAt.IsZero() || !got.LastAttemptAt.Equal(at(0)) {
		t.Fatalf("flaky after failure: %+v", got)
	}
	if sink.count() != 1 {
		t.Fatalf("sink errors=%d want 1", sink.count())
	}
	if activity.Load() != 1 {
		t.Fatalf("activity=%d want 1", activity.Load())
	}
}

func TestRunTickRecoversPanics(t *testing.T) {
	t.Parallel()
	s := newTestService()
	_ = s.AddTask(Task{ID: "bad", Priority: Critical, DueAt: at(0), Interval: time.Second, Callback: func(context.Context) error { panic("kaboom") }})
	_ = s.AddTask(Task{ID: "next", Priority: Low, DueAt: at(0), Callback: ok})

	out := s.RunTick(context.Background(), at(0))
	if len(out) != 2 {
		t.Fatalf("drain stopped after panic: %v", ids(out))
	}
	if !errors.Is(out[0].Err, ErrCallbackPanic) {
		t.Fatalf("err=%v want ErrCallbackPanic", out[0].Err)
	}
	if !out[1].Success {
		t.Fatalf("second task failed: %+v", out[1])
	}
	if s.Len() != 1 {
		t.Fatalf("panicking periodic task should stay registered")
	}
}

func TestRunTickTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{DefaultTimeout: 20 * time.Millisecond}, logx.Nop())

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	_ = s.AddTask(Task{ID: "polite", DueAt: at(0), Callback: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	_ = s.AddTask(Task{ID: "stubborn", DueAt: at(0), Timeout: 30 * time.Millisecond, Callback: func(context.Context) error {
		<-release
		return nil
	}})

	start := time.Now()
	out := s.RunTick(context.Background(), at(0))
	if time.Since(start) > 2*time.Second {
		t.Fatalf("tick blocked by a stuck callback")
	}
	if len(out) != 2 {
		t.Fatalf("outcomes=%d", len(out))
	}
	for _, o := range out {
		if !errors.Is(o.Err, context.DeadlineExceeded) {
			t.Fatalf("%s: err=%v want deadline exceeded", o.ID, o.Err)
		}
	}
}

func TestCronTaskStaleAt(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.AddTask(Task{ID: "hourly", DueAt: at(0), Cron: "0 * * * *", Callback: ok}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if ti := taskInfo(t, s, "hourly"); !ti.StaleAt.IsZero() {
		t.Fatalf("StaleAt before first run = %v", ti.StaleAt)
	}
	s.RunTick(context.Background(), at(0))
	if got, want := taskInfo(t, s, "hourly").StaleAt, base.Add(2*time.Hour); !got.Equal(want) {
		t.Fatalf("StaleAt = %v want %v", got, want)
	}
}

func TestAbandonedPeriodicTaskHeldUntilReturn(t *testing.T) {
	t.Parallel()
	s := newTestService()

	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	_ = s.AddTask(Task{ID: "slow", DueAt: at(0), Interval: time.Second, Timeout: 20 * time.Millisecond, Callback: func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		return nil
	}})

	out := s.RunTick(context.Background(), at(0))
	if len(out) != 1 || !errors.Is(out[0].Err, context.DeadlineExceeded) {
		t.Fatalf("first tick = %+v", out)
	}
	if ti := taskInfo(t, s, "slow"); !ti.InFlight {
		t.Fatalf("abandoned task should stay in flight: %+v", ti)
	}
	if out := s.RunTick(context.Background(), at(5)); len(out) != 0 {
		t.Fatalf("second copy started while the first still runs: %v", ids(out))
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for taskInfo(t, s, "slow").InFlight {
		if time.Now().After(deadline) {
			t.Fatalf("task not re-armed after the callback returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if due := taskInfo(t, s, "slow").DueAt; !due.After(at(0)) {
		t.Fatalf("re-armed due = %v, want after %v", due, at(0))
	}
	if out := s.RunTick(context.Background(), at(10)); len(out) != 1 || out[0].Err != nil {
		t.Fatalf("re-armed run = %+v", out)
	}
	if maxRunning.Load() != 1 {
		t.Fatalf("max concurrent copies = %d", maxRunning.Load())
	}
}

func TestRemoveDuringFlightPreventsRearm(t *testing.T) {
	t.Parallel()
	s := newTestService()
	var dupErr error
	_ = s.AddTask(Task{ID: "self", DueAt: at(0), Interval: time.Second, Callback: func(context.Context) error {
		dupErr = s.AddTask(Task{ID: "self", DueAt: at(0), Callback: ok})
		if !s.RemoveTask("self") {
			return errors.New("not registered while in flight")
		}
		return nil
	}})

	out := s.RunTick(context.Background(), at(0))
	if len(out) != 1 || !out[0].Success {
		t.Fatalf("outcome: %+v", out)
	}
	if !errors.Is(dupErr, ErrDuplicateTask) {
		t.Fatalf("re-add during flight: %v", dupErr)
	}
	if s.Len() != 0 {
		t.Fatalf("removed task was re-armed")
	}
	if out := s.RunTick(context.Background(), at(10)); len(out) != 0 {
		t.Fatalf("removed task ran again")
	}
}

func TestRunTickCanceledRequeuesRest(t *testing.T) {
	t.Parallel()
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.AddTask(Task{ID: "first", Priority: Critical, DueAt: at(0), Callback: func(context.Context) error {
		cancel()
		return nil
	}})
	_ = s.AddTask(Task{ID: "second", Priority: Low, DueAt: at(0), Callback: ok})

	out := s.RunTick(ctx, at(0))
	if len(out) != 1 || out[0].ID != "first" {
		t.Fatalf("got %v", ids(out))
	}
	got := taskInfo(t, s, "second")
	if got.Runs != 0 || !got.DueAt.Equal(at(0)) || got.InFlight {
		t.Fatalf("second not requeued unchanged: %+v", got)
	}
	if out := s.RunTick(context.Background(), at(1)); len(out) != 1 || out[0].ID != "second" {
		t.Fatalf("second did not run later: %v", ids(out))
	}
}

func TestCronTask(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.AddTask(Task{ID: "cron", DueAt: at(0), Cron: "*/10 * * * * *", Callback: ok}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	s.RunTick(context.Background(), at(3))
	if got := taskInfo(t, s, "cron"); !got.DueAt.Equal(at(10)) {
		t.Fatalf("due=%v want %v", got.DueAt, at(10))
	}
}

func TestAddSchedule(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if err := s.AddSchedule("iv", Medium, "every:30s", 0, ok); err != nil {
		t.Fatalf("AddSchedule interval: %v", err)
	}
	if err := s.AddSchedule("cr", Low, "@hourly", 0, ok); err != nil {
		t.Fatalf("AddSchedule cron: %v", err)
	}
	if err := s.AddSchedule("bad", Low, "nope", 0, ok); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
	if got := taskInfo(t, s, "iv"); got.Interval != 30*time.Second {
		t.Fatalf("interval=%v", got.Interval)
	}
	if got := taskInfo(t, s, "cr"); got.Cron != "@hourly" || got.DueAt.IsZero() {
		t.Fatalf("cron task: %+v", got)
	}
}

func TestConcurrentAddRemoveDuringTicks(t *testing.T) {
	t.Parallel()
	s := newTestService()
	ctx := context.Background()
	far := base.AddDate(10, 0, 0)

	stop := make(chan struct{})
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.RunTick(ctx, at(i))
		}
	}()

	const workers, perWorker = 4, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := s.AddTask(Task{ID: id, DueAt: far, Interval: time.Second, Callback: ok}); err != nil {
					t.Errorf("AddTask(%s): %v", id, err)
					return
				}
				if i%2 == 0 && !s.RemoveTask(id) {
					t.Errorf("RemoveTask(%s) = false", id)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-tickerDone

	want := workers * perWorker / 2
	if got := s.Len(); got != want {
		t.Fatalf("Len=%d want %d", got, want)
	}
	if q := s.Snapshot().Queued; q != want {
		t.Fatalf("queued=%d want %d", q, want)
	}
}

func TestStartStopLoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Tick: 5 * time.Millisecond}, logx.Nop())
	var runs atomic.Int32
	_ = s.AddTask(Task{ID: "loop", Interval: 5 * time.Millisecond, Callback: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	s.Start(context.Background())
	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s.Snapshot().Running {
		t.Fatalf("snapshot should report running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runs.Load() < 3 {
		t.Fatalf("runs=%d want >= 3", runs.Load())
	}
	if s.Snapshot().Running {
		t.Fatalf("still running after Stop")
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	tests := map[string]Priority{"": Medium, "critical": Critical, "HIGH": High, "3": Low, " background ": Background}
	for in, want := range tests {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}
