package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

// Service creates load test runs, keeps their books and reports on them.
type Service struct {
	runs     repository.RunRepository
	stats    repository.RunStatisticsRepository
	calls    repository.CallStore
	defaults config.LoadTestConfig
	now      func() time.Time
}

// NewService constructs a load test service.
func NewService(
	runs repository.RunRepository,
	stats repository.RunStatisticsRepository,
	calls repository.CallStore,
	defaults config.LoadTestConfig,
) *Service {
	return &Service{
		runs:     runs,
		stats:    stats,
		calls:    calls,
		defaults: defaults,
		now:      time.Now,
	}
}

// NewRunInput captures run parameters. Nil fields take the configured defaults.
type NewRunInput struct {
	PhoneNumber  string
	TrunkID      string
	AgentName    string
	CallCount    *int
	Interval     *time.Duration
	CallDuration *time.Duration
}

// NewRun builds a run with a fresh run id.
func (s *Service) NewRun(input NewRunInput) (domain.LoadTestRun, error) {
	run := domain.LoadTestRun{
		RunID:        domain.NewRunID(),
		PhoneNumber:  input.PhoneNumber,
		TrunkID:      input.TrunkID,
		AgentName:    input.AgentName,
		CallCount:    s.defaults.CallCount,
		Interval:     s.defaults.Interval,
		CallDuration: s.defaults.CallDuration,
		CreatedAt:    s.now().UTC(),
	}
	if run.AgentName == "" {
		run.AgentName = s.defaults.AgentName
	}
	if input.CallCount != nil {
		run.CallCount = *input.CallCount
	}
	if input.Interval != nil {
		run.Interval = *input.Interval
	}
	if input.CallDuration != nil {
		run.CallDuration = *input.CallDuration
	}

	if err := validateRun(run); err != nil {
		return domain.LoadTestRun{}, err
	}
	return run, nil
}

func validateRun(run domain.LoadTestRun) error {
	switch {
	case run.PhoneNumber == "":
		return fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	case !domain.ValidPhoneNumber(run.PhoneNumber):
		return fmt.Errorf("%w: malformed phone number %q", apperrors.ErrValidation, run.PhoneNumber)
	case run.TrunkID == "":
		return fmt.Errorf("%w: trunk id is required", apperrors.ErrValidation)
	case run.CallCount < 1:
		return fmt.Errorf("%w: call count must be at least 1", apperrors.ErrValidation)
	case run.Interval < 0:
		return fmt.Errorf("%w: interval must not be negative", apperrors.ErrValidation)
	case run.CallDuration < 0:
		return fmt.Errorf("%w: call duration must not be negative", apperrors.ErrValidation)
	case run.CallDuration%time.Second != 0:
		return fmt.Errorf("%w: call duration must be whole seconds", apperrors.ErrValidation)
	}
	return nil
}

// RunStarted records a new run and its zeroed counters.
func (s *Service) RunStarted(ctx context.Context, run domain.LoadTestRun) error {
	record := &domain.Run{LoadTestRun: run, Status: domain.RunStatusDispatching, UpdatedAt: s.now().UTC()}
	if err := s.runs.Create(ctx, record); err != nil {
		return fmt.Errorf("loadtest service: create run: %w", err)
	}
	return nil
}

// Dispatched counts one submitted or failed dispatch.
func (s *Service) Dispatched(ctx context.Context, result domain.DispatchResult) error {
	delta := repository.StatsDelta{Dispatched: 1}
	if !result.OK() {
		delta = repository.StatsDelta{DispatchFailed: 1}
	}
	if err := s.stats.ApplyDelta(ctx, result.RunID, delta); err != nil {
		return fmt.Errorf("loadtest service: count dispatch: %w", err)
	}
	return nil
}

// RunFinished records how the dispatch loop ended.
func (s *Service) RunFinished(ctx context.Context, runID string, status domain.RunStatus) error {
	if err := s.runs.UpdateStatus(ctx, runID, status); err != nil {
		return fmt.Errorf("loadtest service: finish run: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, runID string) (*domain.Run, error) {
	return s.runs.Get(ctx, runID)
}

// List returns recent runs.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	return s.runs.List(ctx, limit)
}

// CallPage is one page of call records.
type CallPage struct {
	Calls     []domain.CallRecord
	NextToken string
}

// ListCalls pages through the calls of a run. Tokens are opaque strings.
func (s *Service) ListCalls(ctx context.Context, runID string, limit int, token string) (*CallPage, error) {
	state, err := decodePageToken(token)
	if err != nil {
		return nil, err
	}

	calls, next, err := s.calls.ListCallsByRun(ctx, runID, limit, state)
	if err != nil {
		return nil, fmt.Errorf("loadtest service: list calls: %w", err)
	}

	return &CallPage{Calls: calls, NextToken: encodePageToken(next)}, nil
}

// Report builds the outcome report of a run.
func (s *Service) Report(ctx context.Context, runID string) (*Report, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	stats, err := s.stats.Get(ctx, runID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("loadtest service: stats: %w", err)
		}
		stats = &domain.RunStats{}
	}

	var (
		calls []domain.CallRecord
		state []byte
	)
	for {
		page, next, err := s.calls.ListCallsByRun(ctx, runID, 500, state)
		if err != nil {
			return nil, fmt.Errorf("loadtest service: list calls: %w", err)
		}
		calls = append(calls, page...)
		if len(next) == 0 {
			break
		}
		state = next
	}

	report := Summarize(*run, calls)
	report.Stats = *stats
	return &report, nil
}
