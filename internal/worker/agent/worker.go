// Package agent hosts a named agent: it picks up the jobs dispatched to it and
// runs each one as a call.
package agent

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	callsvc "github.com/acme/voice-load-test/internal/service/call"
	"github.com/acme/voice-load-test/pkg/logger"
)

const (
	slotPoll      = 50 * time.Millisecond
	fetchBackoff  = time.Second
	releaseWindow = 5 * time.Second
)

// Jobs yields the jobs addressed to this agent.
type Jobs interface {
	Next(ctx context.Context) (domain.CallJob, error)
}

// Handler runs one job to completion.
type Handler interface {
	Handle(ctx context.Context, job domain.CallJob) callsvc.Outcome
}

// Slots bounds the calls held open by one agent across processes.
type Slots interface {
	Wait(ctx context.Context, agent string, poll time.Duration) (func(context.Context) error, error)
}

// Options tune a Worker.
type Options struct {
	Agent      string
	JobTimeout time.Duration
	// Events, when set, receives a Failed event for every job dropped before
	// its call was placed, so the run report still accounts for it.
	Events callsvc.EventSink
}

// Worker runs every job it picks up in its own goroutine.
type Worker struct {
	jobs    Jobs
	handler Handler
	slots   Slots
	opts    Options
	logger  *logger.Logger

	wg sync.WaitGroup
}

// New creates an agent worker. slots may be nil.
func New(jobs Jobs, handler Handler, slots Slots, opts Options, lg *logger.Logger) *Worker {
	return &Worker{
		jobs:    jobs,
		handler: handler,
		slots:   slots,
		opts:    opts,
		logger:  lg.Named("agent").With(zap.String("agent", opts.Agent)),
	}
}

// Run picks up jobs until ctx is cancelled, then waits for the calls in
// flight. Those calls see the same cancellation and end with the shutdown
// trigger.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("agent worker started")
	defer w.wg.Wait()

	for {
		job, err := w.jobs.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("agent worker: next job", zap.Error(err))
			if !pause(ctx, fetchBackoff) {
				return ctx.Err()
			}
			continue
		}

		release, err := w.waitForSlot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("agent worker: dropping job without a call slot",
				logger.Room(job.Room), logger.DispatchID(job.DispatchID), zap.Error(err))
			w.reportDropped(ctx, job, err)
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.run(ctx, job, release)
		}()
	}
}

func (w *Worker) run(ctx context.Context, job domain.CallJob, release func(context.Context) error) {
	ctx, span := otel.Tracer("voiceload.agent").Start(ctx, "agent.job", trace.WithAttributes(
		attribute.String("agent.name", w.opts.Agent),
		attribute.String("dispatch.id", job.DispatchID),
		attribute.String("room", job.Room),
	))
	defer span.End()

	if release != nil {
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseWindow)
			defer cancel()
			if err := release(rctx); err != nil {
				w.logger.Warn("agent worker: release slot", zap.Error(err))
			}
		}()
	}

	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	outcome := w.handler.Handle(ctx, job)
	span.SetAttributes(attribute.String("call.state", string(outcome.State)))
	if outcome.Trigger != "" {
		span.SetAttributes(attribute.String("call.trigger", string(outcome.Trigger)))
	}
}

// reportDropped records a committed job that will never be dialed.
func (w *Worker) reportDropped(ctx context.Context, job domain.CallJob, cause error) {
	if w.opts.Events == nil {
		return
	}
	event := domain.CallEvent{
		RunID:      job.RunID,
		CallIndex:  job.CallIndex,
		Room:       job.Room,
		DispatchID: job.DispatchID,
		State:      domain.CallStateFailed,
		Trigger:    domain.TriggerNoCallSlot,
		Reason:     &domain.FailureReason{Message: "no call slot: " + cause.Error()},
		OccurredAt: time.Now().UTC(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseWindow)
	defer cancel()
	if err := w.opts.Events.PublishCallEvent(pctx, event); err != nil {
		w.logger.Warn("agent worker: publish dropped job", logger.Room(job.Room), zap.Error(err))
	}
}

func (w *Worker) waitForSlot(ctx context.Context) (func(context.Context) error, error) {
	if w.slots == nil {
		return nil, nil
	}
	return w.slots.Wait(ctx, w.opts.Agent, slotPoll)
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
