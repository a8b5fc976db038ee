package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoRestartRecoversPanics(t *testing.T) {
	sup := New(context.Background())
	var runs int32
	done := make(chan struct{})
	sup.GoRestart("flaky", func(ctx context.Context) error {
		n := atomic.AddInt32(&runs, 1)
		if n < 3 {
			panic("boom")
		}
		close(done)
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop was not restarted, runs=%d", atomic.LoadInt32(&runs))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sup.Counters().Restarts; got != 2 {
		t.Fatalf("Restarts = %d, want 2", got)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	sup := New(context.Background())
	sentinel := errors.New("always failing")
	sup.GoRestart("broken", func(ctx context.Context) error {
		return sentinel
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Wait err = %v, want %v", err, sentinel)
	}
	sup.Cancel()
}

func TestCancelOnError(t *testing.T) {
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("fails", func(ctx context.Context) error { return errors.New("nope") })
	sup.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatal("expected first error to surface")
	}
}
