// Package background runs periodic work whose lifetime is owned by a caller.
// A Task is started with Every and always torn down by Stop or by cancelling the parent context.
package background

import (
	"context"
	"time"
)

// Task is a running periodic job.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Every runs fn every interval until ctx is done or the task is stopped. fn receives the
// task's context, which is cancelled on Stop. interval must be positive.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return t
}

// Cancel signals the task to stop without waiting. Safe to call from inside fn.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

// Stop cancels the task and waits for the running fn, if any, to return.
// Must not be called from inside fn; use Cancel there.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
