package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	logx "vigil/pkg/logx"
)

// invoke runs one callback. Panics become errors. With a timeout the callback
// runs on its own goroutine and is abandoned once the deadline passes. An
// abandoned callback keeps running; late is closed when it finally returns
// and is nil otherwise.
func (s *Service) invoke(ctx context.Context, t Task) (late <-chan struct{}, err error) {
	timeout := t.Timeout
	if timeout == 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		return nil, s.call(ctx, t)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	returned := make(chan struct{})
	go func() {
		done <- s.call(runCtx, t)
		close(returned)
	}()

	select {
	case err = <-done:
		return nil, err
	case <-runCtx.Done():
		select {
		case err = <-done:
			return nil, err
		default:
		}
		s.log.Warn("task.abandoned", logx.String("task", t.ID), logx.Duration("timeout", timeout))
		return returned, runCtx.Err()
	}
}

func (s *Service) call(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
			s.log.Error("task.panic", logx.String("task", t.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Callback(ctx)
}
