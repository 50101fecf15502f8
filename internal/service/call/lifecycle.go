package call

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/telephony"
	"github.com/acme/voice-load-test/pkg/logger"
)

// lifecycle is the single terminal-state guard of a call job. Whichever trigger
// calls end first tears the room down; every later trigger is a no-op.
type lifecycle struct {
	room     string
	platform telephony.Platform
	timeout  time.Duration
	logger   *logger.Logger

	ended   atomic.Bool
	done    chan struct{}
	trigger domain.EndTrigger
	err     error
}

func newLifecycle(room string, platform telephony.Platform, timeout time.Duration, lg *logger.Logger) *lifecycle {
	return &lifecycle{
		room:     room,
		platform: platform,
		timeout:  timeout,
		logger:   lg,
		done:     make(chan struct{}),
	}
}

// end performs the teardown if no other trigger got there first. It reports
// whether this call won. A room that is already gone is not an error.
func (l *lifecycle) end(ctx context.Context, trigger domain.EndTrigger) bool {
	if !l.ended.CompareAndSwap(false, true) {
		l.logger.Debug("call already ended", logger.Trigger(string(trigger)))
		return false
	}
	defer close(l.done)

	l.trigger = trigger
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	err := l.platform.DeleteRoom(tctx, l.room)
	switch {
	case err == nil:
		l.logger.Info("room deleted", logger.Trigger(string(trigger)))
	case errors.Is(err, telephony.ErrRoomNotFound):
		l.logger.Info("room already gone", logger.Trigger(string(trigger)))
	default:
		l.err = err
		l.logger.Warn("failed to delete room", logger.Trigger(string(trigger)), zap.Error(err))
	}
	return true
}

// Done is closed once the winning trigger finished its teardown.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

// Trigger returns the winning trigger. Only valid after Done is closed.
func (l *lifecycle) Trigger() domain.EndTrigger {
	return l.trigger
}

// Err returns a non-benign teardown failure. Only valid after Done is closed.
func (l *lifecycle) Err() error {
	return l.err
}
