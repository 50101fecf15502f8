package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
)

// RunStatisticsRepository implements repository.RunStatisticsRepository.
type RunStatisticsRepository struct {
	db *sqlx.DB
}

// NewRunStatisticsRepository builds the repository.
func NewRunStatisticsRepository(db *sqlx.DB) *RunStatisticsRepository {
	return &RunStatisticsRepository{db: db}
}

// Ensure creates the zeroed counter row for runID if it is missing.
func (r *RunStatisticsRepository) Ensure(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO run_statistics (run_id)
		VALUES ($1) ON CONFLICT (run_id) DO NOTHING`, runID)
	if err != nil {
		return fmt.Errorf("run stats: ensure: %w", err)
	}
	return nil
}

// Get returns repository.ErrNotFound for a run that has no counters yet.
func (r *RunStatisticsRepository) Get(ctx context.Context, runID string) (*domain.RunStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT dispatched, dispatch_failed, connected, failed, ended
		FROM run_statistics WHERE run_id = $1`, runID)

	var stats domain.RunStats
	if err := row.StructScan(&stats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("run stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta adds delta to the run's counters in one statement. The row is
// created on first use, so an event that beats Ensure is still counted.
func (r *RunStatisticsRepository) ApplyDelta(ctx context.Context, runID string, delta repository.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO run_statistics AS s
		(run_id, dispatched, dispatch_failed, connected, failed, ended)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (run_id) DO UPDATE SET
		dispatched = s.dispatched + EXCLUDED.dispatched,
		dispatch_failed = s.dispatch_failed + EXCLUDED.dispatch_failed,
		connected = s.connected + EXCLUDED.connected,
		failed = s.failed + EXCLUDED.failed,
		ended = s.ended + EXCLUDED.ended,
		updated_at = NOW()`,
		runID,
		delta.Dispatched,
		delta.DispatchFailed,
		delta.Connected,
		delta.Failed,
		delta.Ended,
	)
	if err != nil {
		return fmt.Errorf("run stats: apply delta: %w", err)
	}
	return nil
}
