// Package recorder persists the call events published by agent workers.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/queue"
	"github.com/acme/voice-load-test/internal/repository"
	"github.com/acme/voice-load-test/pkg/logger"
)

// Reader is the consumer-group side of the event topic.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker folds call events into the call store and the run counters.
type Worker struct {
	calls  repository.CallStore
	stats  repository.RunStatisticsRepository
	logger *logger.Logger
}

// New creates a recorder. stats may be nil when no run database is wired.
func New(calls repository.CallStore, stats repository.RunStatisticsRepository, lg *logger.Logger) *Worker {
	return &Worker{calls: calls, stats: stats, logger: lg.Named("recorder")}
}

// Run processes events until ctx is cancelled. Every message is committed
// once handled, including the ones that could not be decoded or stored.
func (w *Worker) Run(ctx context.Context, reader Reader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("recorder: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			w.logger.Error("recorder: handle event", zap.Int64("offset", msg.Offset), zap.Error(err))
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("recorder: commit", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var event queue.EventMessage
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	ctx, span := otel.Tracer("voiceload.recorder").Start(ctx, "call.event", trace.WithAttributes(
		attribute.String("run.id", event.RunID),
		attribute.Int("call.index", event.CallIndex),
		attribute.String("call.state", string(event.State)),
	))
	defer span.End()

	if err := w.calls.ApplyEvent(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply event")
		return fmt.Errorf("apply event: %w", err)
	}

	delta := repository.DeltaForEvent(event)
	if w.stats == nil || delta.IsZero() {
		return nil
	}
	if err := w.stats.ApplyDelta(ctx, event.RunID, delta); err != nil {
		span.RecordError(err)
		return fmt.Errorf("apply stats: %w", err)
	}
	return nil
}
