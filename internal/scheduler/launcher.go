package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/pkg/logger"
)

// Launcher prepares runs in the caller's context and then drains their
// dispatch sequence in the background, for callers such as the HTTP API that
// cannot block for the length of a batch.
type Launcher struct {
	scheduler *Scheduler
	base      context.Context
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewLauncher creates a launcher. Batches stop when base is cancelled.
func NewLauncher(base context.Context, s *Scheduler, lg *logger.Logger) *Launcher {
	return &Launcher{scheduler: s, base: base, logger: lg.Named("launcher")}
}

// Launch fails with the Prepare error, or returns once the batch is running.
func (l *Launcher) Launch(ctx context.Context, run domain.LoadTestRun) error {
	batch, err := l.scheduler.Prepare(ctx, run)
	if err != nil {
		return err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		failed := 0
		for result := range batch.Dispatches(l.base) {
			if !result.OK() {
				failed++
			}
		}
		l.logger.Info("background batch done", logger.RunID(run.RunID), zap.Int("dispatch_failures", failed))
	}()
	return nil
}

// Wait blocks until every launched batch has stopped.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
