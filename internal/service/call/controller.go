package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/conversation"
	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/telephony"
	"github.com/acme/voice-load-test/pkg/logger"
)

const defaultTeardownTimeout = 10 * time.Second

// EventSink receives call state transitions.
type EventSink interface {
	PublishCallEvent(ctx context.Context, event domain.CallEvent) error
}

// Options tune a Controller.
type Options struct {
	Direction       domain.CallDirection
	TeardownTimeout time.Duration
}

// Controller drives one call job from dial through teardown.
type Controller struct {
	platform telephony.Platform
	sessions conversation.Starter
	events   EventSink
	profile  conversation.Profile
	opts     Options
	logger   *logger.Logger
	now      func() time.Time
}

// NewController constructs a controller for the configured call direction.
func NewController(platform telephony.Platform, sessions conversation.Starter, events EventSink, opts Options, lg *logger.Logger) *Controller {
	if opts.Direction == "" {
		opts.Direction = domain.DirectionOutbound
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	return &Controller{
		platform: platform,
		sessions: sessions,
		events:   events,
		profile:  conversation.ProfileFor(opts.Direction),
		opts:     opts,
		logger:   lg.Named("controller"),
		now:      time.Now,
	}
}

// Outcome summarizes a finished call job.
type Outcome struct {
	State       domain.CallState
	Reason      *domain.FailureReason
	Trigger     domain.EndTrigger
	TimerArmed  bool
	TimerFired  bool
	ConnectedAt time.Time
	EndedAt     time.Time
	// TeardownErr is a room deletion failure other than the room being gone.
	TeardownErr error
}

// Handle runs a call job to completion. It returns once the call reached a
// terminal state and every task it started has stopped. Cancelling ctx ends a
// connected call with the shutdown trigger.
func (c *Controller) Handle(ctx context.Context, job domain.CallJob) Outcome {
	ctx, span := otel.Tracer("voiceload.controller").Start(ctx, "Controller.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.room", job.Room),
		attribute.String("call.dispatch_id", job.DispatchID),
		attribute.String("call.direction", string(c.opts.Direction)),
	)

	lg := c.logger.With(logger.RunID(job.RunID), logger.CallIndex(job.CallIndex), logger.Room(job.Room), logger.DispatchID(job.DispatchID))
	lc := newLifecycle(job.Room, c.platform, c.opts.TeardownTimeout, lg)

	var (
		participant *telephony.Participant
		duration    time.Duration
	)

	if c.opts.Direction == domain.DirectionOutbound {
		info, err := domain.ParseDialInfo(job.Metadata)
		if err != nil {
			lg.Error("invalid dial info", zap.Error(err))
			return c.fail(ctx, job, lc, &domain.FailureReason{Message: err.Error()}, span, lg)
		}
		duration = info.CallDuration()

		c.emit(ctx, job, domain.CallEvent{State: domain.CallStateDialing}, lg)
		lg.Info("dialing", zap.String("phone_number", info.PhoneNumber), zap.String("trunk_id", info.TrunkID))

		participant, err = c.platform.PlaceCall(ctx, telephony.PlaceCallRequest{
			Room:                job.Room,
			TrunkID:             info.TrunkID,
			To:                  info.PhoneNumber,
			ParticipantIdentity: info.PhoneNumber,
			WaitUntilAnswered:   true,
		})
		if err != nil {
			reason := failureReason(err)
			lg.Warn("call failed to connect", zap.Int("sip_status_code", reason.Code), zap.String("sip_status", reason.Status), zap.String("message", reason.Message))
			return c.fail(ctx, job, lc, reason, span, lg)
		}
	} else {
		duration = inboundDuration(job.Metadata)
	}

	out := Outcome{State: domain.CallStateConnected, ConnectedAt: c.now()}
	c.emit(ctx, job, domain.CallEvent{State: domain.CallStateConnected}, lg)
	lg.Info("call connected")

	session, err := c.sessions.Start(ctx, job.Room, c.profile)
	if err != nil {
		lg.Error("failed to start conversation session", zap.Error(err))
		span.RecordError(err)
		lc.end(ctx, domain.TriggerSessionClosed)
		return c.finish(ctx, job, lc, out, nil, span, lg)
	}
	defer func() {
		if err := session.Close(); err != nil {
			lg.Warn("failed to close conversation session", zap.Error(err))
		}
	}()

	if c.profile.Greeting != "" {
		if err := session.Say(ctx, c.profile.Greeting); err != nil {
			lg.Warn("failed to say greeting", zap.Error(err))
		}
	}

	var timer *DurationTimer
	if c.opts.Direction == domain.DirectionOutbound || duration > 0 {
		timer = armDurationTimer(ctx, duration, job.Room, func(fctx context.Context) error {
			lg.Info("call duration elapsed", zap.Duration("duration", duration))
			lc.end(fctx, domain.TriggerDurationElapsed)
			return nil
		})
		out.TimerArmed = true
	}

	var disconnected <-chan struct{}
	if participant != nil {
		disconnected = participant.Disconnected
	}

	select {
	case <-lc.Done():
	case <-disconnected:
		lc.end(ctx, domain.TriggerDisconnected)
	case <-session.Done():
		lc.end(ctx, domain.TriggerSessionClosed)
	case <-ctx.Done():
		lc.end(ctx, domain.TriggerShutdown)
	}
	<-lc.Done()

	return c.finish(ctx, job, lc, out, timer, span, lg)
}

func (c *Controller) finish(ctx context.Context, job domain.CallJob, lc *lifecycle, out Outcome, timer *DurationTimer, span trace.Span, lg *logger.Logger) Outcome {
	if timer != nil {
		timer.Stop()
		<-timer.Done()
		out.TimerFired = timer.Fired()
	}

	out.State = domain.CallStateEnded
	out.Trigger = lc.Trigger()
	out.TeardownErr = lc.Err()
	out.EndedAt = c.now()
	if out.TeardownErr != nil {
		span.RecordError(out.TeardownErr)
	}

	c.emit(ctx, job, domain.CallEvent{State: domain.CallStateEnded, Trigger: out.Trigger}, lg)
	lg.Info("call ended", logger.Trigger(string(out.Trigger)), zap.Duration("talk_time", out.EndedAt.Sub(out.ConnectedAt)))
	return out
}

// fail records a call that never connected. The room is released through the
// same guard every other teardown uses, so it cannot be ended twice.
func (c *Controller) fail(ctx context.Context, job domain.CallJob, lc *lifecycle, reason *domain.FailureReason, span trace.Span, lg *logger.Logger) Outcome {
	lc.end(ctx, domain.TriggerDialFailed)
	<-lc.Done()

	span.SetStatus(codes.Error, reason.String())
	c.emit(ctx, job, domain.CallEvent{State: domain.CallStateFailed, Trigger: domain.TriggerDialFailed, Reason: reason}, lg)

	return Outcome{
		State:       domain.CallStateFailed,
		Reason:      reason,
		Trigger:     domain.TriggerDialFailed,
		EndedAt:     c.now(),
		TeardownErr: lc.Err(),
	}
}

func (c *Controller) emit(ctx context.Context, job domain.CallJob, event domain.CallEvent, lg *logger.Logger) {
	if c.events == nil {
		return
	}
	event.RunID = job.RunID
	event.CallIndex = job.CallIndex
	event.Room = job.Room
	event.DispatchID = job.DispatchID
	event.OccurredAt = c.now().UTC()

	if err := c.events.PublishCallEvent(context.WithoutCancel(ctx), event); err != nil {
		lg.Warn("failed to publish call event", zap.String("state", string(event.State)), zap.Error(err))
	}
}

func failureReason(err error) *domain.FailureReason {
	var sipErr *telephony.SIPError
	if errors.As(err, &sipErr) {
		return &domain.FailureReason{Code: sipErr.Code, Status: sipErr.Status, Message: sipErr.Message}
	}
	return &domain.FailureReason{Message: fmt.Sprintf("place call: %v", err)}
}

// inboundDuration reads an optional duration from inbound job metadata.
func inboundDuration(metadata string) time.Duration {
	if metadata == "" {
		return 0
	}
	var info domain.DialInfo
	if err := json.Unmarshal([]byte(metadata), &info); err != nil || info.Duration <= 0 {
		return 0
	}
	return info.CallDuration()
}
