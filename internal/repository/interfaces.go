package repository

import (
	"context"

	"github.com/acme/voice-load-test/internal/domain"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// RunRepository stores load test runs. Records are diagnostics only; nothing
// reads them back to drive a call.
type RunRepository interface {
	Create(ctx context.Context, run *domain.Run) error
	Get(ctx context.Context, runID string) (*domain.Run, error)
	UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}

// RunStatisticsRepository keeps aggregate counters per run.
type RunStatisticsRepository interface {
	Ensure(ctx context.Context, runID string) error
	Get(ctx context.Context, runID string) (*domain.RunStats, error)
	ApplyDelta(ctx context.Context, runID string, delta StatsDelta) error
}

// CallStore persists the latest state and the event history of each call.
type CallStore interface {
	ApplyEvent(ctx context.Context, event domain.CallEvent) error
	GetCall(ctx context.Context, runID string, callIndex int) (*domain.CallRecord, error)
	ListCallsByRun(ctx context.Context, runID string, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error)
	ListEvents(ctx context.Context, runID string, callIndex int) ([]domain.CallEvent, error)
}

// RunRegistry guarantees a run id is used by one invocation only.
type RunRegistry interface {
	Claim(ctx context.Context, runID string) (bool, error)
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	Dispatched     int64
	DispatchFailed int64
	Connected      int64
	Failed         int64
	Ended          int64
}

// IsZero reports whether applying the delta would change nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// DeltaForEvent maps a call event onto the counters it moves.
func DeltaForEvent(event domain.CallEvent) StatsDelta {
	switch event.State {
	case domain.CallStateConnected:
		return StatsDelta{Connected: 1}
	case domain.CallStateFailed:
		return StatsDelta{Failed: 1}
	case domain.CallStateEnded:
		return StatsDelta{Ended: 1}
	default:
		return StatsDelta{}
	}
}
