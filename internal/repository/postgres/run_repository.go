package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
)

const uniqueViolation = "23505"

// RunRepository implements repository.RunRepository using PostgreSQL.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository constructs a new repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts the run and its zeroed statistics row in one transaction.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	q := `INSERT INTO load_test_runs (
		run_id, phone_number, trunk_id, agent_name, call_count,
		interval_ms, call_duration_ms, status, created_at, updated_at
	) VALUES (
		:run_id, :phone_number, :trunk_id, :agent_name, :call_count,
		:interval_ms, :call_duration_ms, :status, :created_at, :updated_at
	)`

	record := runRecordFromDomain(run)

	return withTx(ctx, r.db, "run repo: create", func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, record); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return repository.ErrConflict
			}
			return fmt.Errorf("run repo: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_statistics (run_id) VALUES ($1)
			ON CONFLICT (run_id) DO NOTHING`, run.RunID); err != nil {
			return fmt.Errorf("run repo: insert stats: %w", err)
		}
		return nil
	})
}

// Get fetches a run by id.
func (r *RunRepository) Get(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+runColumns+` FROM load_test_runs WHERE run_id = $1`, runID)

	var record runRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("run repo: get: %w", err)
	}

	run := record.toDomain()
	return &run, nil
}

// UpdateStatus moves the run to status.
func (r *RunRepository) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE load_test_runs SET status = $1, updated_at = NOW() WHERE run_id = $2`, status, runID)
	if err != nil {
		return fmt.Errorf("run repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("run repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+runColumns+` FROM load_test_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("run repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Run
	for rows.Next() {
		var record runRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("run repo: scan: %w", err)
		}
		run := record.toDomain()
		results = append(results, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run repo: rows err: %w", err)
	}
	return results, nil
}

const runColumns = `run_id, phone_number, trunk_id, agent_name, call_count,
	interval_ms, call_duration_ms, status, created_at, updated_at`

type runRecord struct {
	RunID          string    `db:"run_id"`
	PhoneNumber    string    `db:"phone_number"`
	TrunkID        string    `db:"trunk_id"`
	AgentName      string    `db:"agent_name"`
	CallCount      int       `db:"call_count"`
	IntervalMs     int64     `db:"interval_ms"`
	CallDurationMs int64     `db:"call_duration_ms"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func runRecordFromDomain(run *domain.Run) runRecord {
	return runRecord{
		RunID:          run.RunID,
		PhoneNumber:    run.PhoneNumber,
		TrunkID:        run.TrunkID,
		AgentName:      run.AgentName,
		CallCount:      run.CallCount,
		IntervalMs:     run.Interval.Milliseconds(),
		CallDurationMs: run.CallDuration.Milliseconds(),
		Status:         string(run.Status),
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
}

func (r runRecord) toDomain() domain.Run {
	return domain.Run{
		LoadTestRun: domain.LoadTestRun{
			RunID:        r.RunID,
			PhoneNumber:  r.PhoneNumber,
			TrunkID:      r.TrunkID,
			AgentName:    r.AgentName,
			CallCount:    r.CallCount,
			Interval:     time.Duration(r.IntervalMs) * time.Millisecond,
			CallDuration: time.Duration(r.CallDurationMs) * time.Millisecond,
			CreatedAt:    r.CreatedAt,
		},
		Status:    domain.RunStatus(r.Status),
		UpdatedAt: r.UpdatedAt,
	}
}
