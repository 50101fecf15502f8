package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/pkg/logger"
)

func TestLifecycleOnlyFirstTriggerTearsDown(t *testing.T) {
	platform := newFakePlatform()
	platform.rooms["r"] = make(chan struct{})
	lc := newLifecycle("r", platform, time.Second, logger.NewNop())

	var wins atomic.Int32
	var wg sync.WaitGroup
	triggers := []domain.EndTrigger{domain.TriggerDurationElapsed, domain.TriggerDisconnected, domain.TriggerShutdown, domain.TriggerSessionClosed}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.end(context.Background(), triggers[i%len(triggers)]) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	<-lc.Done()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, platform.deleteCount("r"))
	assert.Contains(t, triggers, lc.Trigger())
	assert.NoError(t, lc.Err())
}

func TestLifecycleAbsentRoomIsBenign(t *testing.T) {
	lc := newLifecycle("gone", newFakePlatform(), time.Second, logger.NewNop())

	assert.True(t, lc.end(context.Background(), domain.TriggerDurationElapsed))
	assert.NoError(t, lc.Err())
	assert.False(t, lc.end(context.Background(), domain.TriggerDisconnected))
}

type brokenPlatform struct{ fakePlatform }

func (*brokenPlatform) DeleteRoom(context.Context, string) error { return errors.New("platform down") }

func TestLifecycleKeepsTeardownFailure(t *testing.T) {
	lc := newLifecycle("r", &brokenPlatform{}, time.Second, logger.NewNop())

	lc.end(context.Background(), domain.TriggerDurationElapsed)
	assert.EqualError(t, lc.Err(), "platform down")
}
