// Package scheduler issues the dispatches of a load test run: one per call
// index, strictly one after another, with a fixed pause between them.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/queue"
	"github.com/acme/voice-load-test/internal/repository"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
	"github.com/acme/voice-load-test/pkg/logger"
)

// Submitter submits one agent job.
type Submitter interface {
	CreateDispatch(ctx context.Context, req queue.DispatchRequest) (queue.Dispatch, error)
}

// TrunkResolver verifies both ends of a run before anything is dialed.
type TrunkResolver interface {
	Resolve(ctx context.Context, trunkID, phoneNumber string) (domain.TrunkDetails, error)
}

// Bookkeeper records runs and dispatches for later reporting. Failures are
// logged and never stop a batch.
type Bookkeeper interface {
	RunStarted(ctx context.Context, run domain.LoadTestRun) error
	Dispatched(ctx context.Context, result domain.DispatchResult) error
	RunFinished(ctx context.Context, runID string, status domain.RunStatus) error
}

// Deps are the collaborators of a Scheduler. Registry and Books are optional.
type Deps struct {
	Submitter Submitter
	Trunks    TrunkResolver
	Registry  repository.RunRegistry
	Books     Bookkeeper
}

// Scheduler turns a LoadTestRun into a batch of dispatches.
type Scheduler struct {
	deps   Deps
	logger *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu      sync.Mutex
	claimed map[string]struct{}
}

// New constructs a scheduler.
func New(deps Deps, lg *logger.Logger) *Scheduler {
	return &Scheduler{
		deps:    deps,
		logger:  lg.Named("scheduler"),
		sleep:   sleepFor,
		now:     time.Now,
		claimed: make(map[string]struct{}),
	}
}

// Prepare validates the run, resolves its trunks and claims its run id. No
// dispatch is issued when Prepare fails.
func (s *Scheduler) Prepare(ctx context.Context, run domain.LoadTestRun) (*Batch, error) {
	ctx, span := otel.Tracer("voiceload.scheduler").Start(ctx, "scheduler.prepare", trace.WithAttributes(
		attribute.String("run.id", run.RunID),
		attribute.Int("run.call_count", run.CallCount),
	))
	defer span.End()

	if err := validate(run); err != nil {
		span.RecordError(err)
		return nil, err
	}

	trunks, err := s.deps.Trunks.Resolve(ctx, run.TrunkID, run.PhoneNumber)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduler: resolve trunks: %w", err)
	}

	if err := s.claim(ctx, run.RunID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	lg := s.logger.With(logger.RunID(run.RunID))
	if s.deps.Books != nil {
		if err := s.deps.Books.RunStarted(ctx, run); err != nil {
			lg.Warn("failed to record run", zap.Error(err))
		}
	}

	lg.Info("run prepared",
		zap.String("outbound_trunk", trunks.Outbound.ID),
		zap.String("caller_number", trunks.Outbound.PrimaryNumber()),
		zap.String("inbound_trunk", trunks.Inbound.ID),
		zap.String("room_prefix", domain.RoomPrefix(run.RunID)),
	)

	return &Batch{run: run, trunks: trunks, scheduler: s, logger: lg}, nil
}

func (s *Scheduler) claim(ctx context.Context, runID string) error {
	s.mu.Lock()
	if _, taken := s.claimed[runID]; taken {
		s.mu.Unlock()
		return apperrors.Configuration(
			apperrors.Mark(fmt.Errorf("scheduler: run id %s already used", runID), apperrors.ErrConflict),
			"every invocation needs a fresh run id",
		)
	}
	s.claimed[runID] = struct{}{}
	s.mu.Unlock()

	if s.deps.Registry == nil {
		return nil
	}
	ok, err := s.deps.Registry.Claim(ctx, runID)
	if err != nil {
		s.release(runID)
		return apperrors.Mark(fmt.Errorf("scheduler: claim run id: %w", err), apperrors.ErrUnavailable)
	}
	if !ok {
		return apperrors.Configuration(
			apperrors.Mark(fmt.Errorf("scheduler: run id %s already used", runID), apperrors.ErrConflict),
			"every invocation needs a fresh run id",
		)
	}
	return nil
}

func (s *Scheduler) release(runID string) {
	s.mu.Lock()
	delete(s.claimed, runID)
	s.mu.Unlock()
}

func validate(run domain.LoadTestRun) error {
	var problem string
	switch {
	case run.RunID == "":
		problem = "run id is required"
	case run.CallCount < 1:
		problem = fmt.Sprintf("call count must be at least 1, got %d", run.CallCount)
	case run.Interval < 0:
		problem = fmt.Sprintf("interval must not be negative, got %s", run.Interval)
	case run.CallDuration < 0:
		problem = fmt.Sprintf("call duration must not be negative, got %s", run.CallDuration)
	case run.AgentName == "":
		problem = "agent name is required"
	case run.TrunkID == "":
		problem = "trunk id is required"
	case !domain.ValidPhoneNumber(run.PhoneNumber):
		problem = fmt.Sprintf("malformed phone number %q", run.PhoneNumber)
	default:
		return nil
	}
	return apperrors.Configuration(
		apperrors.Mark(fmt.Errorf("scheduler: %s", problem), apperrors.ErrValidation),
		"fix the run parameters and retry",
	)
}

// Batch is a prepared run. Its dispatch sequence can be consumed once.
type Batch struct {
	run       domain.LoadTestRun
	trunks    domain.TrunkDetails
	scheduler *Scheduler
	logger    *logger.Logger
	used      atomic.Bool
}

// Run returns the run this batch dispatches.
func (b *Batch) Run() domain.LoadTestRun { return b.run }

// Trunks returns the trunks resolved for the run.
func (b *Batch) Trunks() domain.TrunkDetails { return b.trunks }

// Dispatches returns the lazy sequence of dispatch results, in call index
// order. Each element is produced only when the consumer asks for it; between
// elements the sequence pauses for the run's interval. A failed submission is
// yielded and the batch continues on schedule. Stopping the iteration, or
// cancelling ctx, stops the batch. Iterating a second time yields nothing.
func (b *Batch) Dispatches(ctx context.Context) iter.Seq[domain.DispatchResult] {
	return func(yield func(domain.DispatchResult) bool) {
		if !b.used.CompareAndSwap(false, true) {
			b.logger.Warn("dispatch sequence already consumed")
			return
		}

		status := domain.RunStatusAborted
		defer func() { b.finish(ctx, status) }()

		for idx := 0; idx < b.run.CallCount; idx++ {
			if ctx.Err() != nil {
				b.logger.Warn("batch cancelled", logger.CallIndex(idx), zap.Error(ctx.Err()))
				return
			}

			if !yield(b.dispatch(ctx, idx)) {
				b.logger.Info("batch stopped by consumer", logger.CallIndex(idx))
				return
			}

			if idx < b.run.CallCount-1 {
				if err := b.scheduler.sleep(ctx, b.run.Interval); err != nil {
					b.logger.Warn("batch cancelled", logger.CallIndex(idx+1), zap.Error(err))
					return
				}
			}
		}
		status = domain.RunStatusDispatched
	}
}

func (b *Batch) dispatch(ctx context.Context, idx int) domain.DispatchResult {
	room := domain.RoomName(b.run.RunID, idx)
	ctx, span := otel.Tracer("voiceload.scheduler").Start(ctx, "scheduler.dispatch", trace.WithAttributes(
		attribute.String("run.id", b.run.RunID),
		attribute.Int("call.index", idx),
		attribute.String("call.room", room),
	))
	defer span.End()

	result := domain.DispatchResult{
		CallDispatch: domain.CallDispatch{RunID: b.run.RunID, CallIndex: idx, RoomName: room},
	}
	lg := b.logger.With(logger.CallIndex(idx), logger.Room(room))

	metadata, err := domain.DialInfo{
		PhoneNumber: b.run.PhoneNumber,
		TrunkID:     b.run.TrunkID,
		Duration:    int(b.run.CallDuration / time.Second),
	}.Encode()
	if err == nil {
		var d queue.Dispatch
		d, err = b.scheduler.deps.Submitter.CreateDispatch(ctx, queue.DispatchRequest{
			AgentName: b.run.AgentName,
			Room:      room,
			Metadata:  metadata,
			RunID:     b.run.RunID,
			CallIndex: idx,
		})
		result.DispatchID = d.ID
	}
	result.SubmittedAt = b.scheduler.now().UTC()
	result.Err = err

	if err != nil {
		span.RecordError(err)
		lg.Error("dispatch failed", zap.Error(err))
	} else {
		span.SetAttributes(attribute.String("dispatch.id", result.DispatchID))
		lg.Info("dispatch created", logger.DispatchID(result.DispatchID))
	}

	if books := b.scheduler.deps.Books; books != nil {
		if err := books.Dispatched(ctx, result); err != nil {
			lg.Warn("failed to record dispatch", zap.Error(err))
		}
	}
	return result
}

func (b *Batch) finish(ctx context.Context, status domain.RunStatus) {
	b.logger.Info("batch finished", zap.String("status", string(status)))
	if books := b.scheduler.deps.Books; books != nil {
		if err := books.RunFinished(context.WithoutCancel(ctx), b.run.RunID, status); err != nil {
			b.logger.Warn("failed to record run status", zap.Error(err))
		}
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
