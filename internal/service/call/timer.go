package call

import (
	"context"
	"sync/atomic"
	"time"
)

// DurationTimer ends a connected call after a fixed duration. It runs as a task
// owned by the call job: stopping the job stops the timer, and Done lets the
// owner wait for it before returning.
type DurationTimer struct {
	room     string
	deadline time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	fired    atomic.Bool
	err      error
}

// armDurationTimer starts the countdown. fire runs at most once, after d, unless
// the timer is stopped first.
func armDurationTimer(ctx context.Context, d time.Duration, room string, fire func(context.Context) error) *DurationTimer {
	if d < 0 {
		d = 0
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &DurationTimer{
		room:     room,
		deadline: time.Now().Add(d),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-tctx.Done():
			return
		case <-timer.C:
		}

		t.fired.Store(true)
		t.err = fire(tctx)
	}()

	return t
}

// Stop cancels a pending countdown. A timer that already fired is unaffected.
func (t *DurationTimer) Stop() {
	t.cancel()
}

// Done is closed when the timer fired and its action returned, or when it was stopped.
func (t *DurationTimer) Done() <-chan struct{} {
	return t.done
}

// Fired reports whether the countdown elapsed.
func (t *DurationTimer) Fired() bool {
	return t.fired.Load()
}

// Err returns the result of the fire action. Only valid after Done is closed.
func (t *DurationTimer) Err() error {
	return t.err
}

// Deadline is when the timer is due.
func (t *DurationTimer) Deadline() time.Time {
	return t.deadline
}
