package db

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sip_trunks (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL DEFAULT '',
		numbers   TEXT[] NOT NULL DEFAULT '{}',
		address   TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound'))
	)`,
	`CREATE INDEX IF NOT EXISTS sip_trunks_numbers_idx ON sip_trunks USING GIN (numbers)`,
	`CREATE TABLE IF NOT EXISTS load_test_runs (
		run_id           TEXT PRIMARY KEY,
		phone_number     TEXT NOT NULL,
		trunk_id         TEXT NOT NULL,
		agent_name       TEXT NOT NULL,
		call_count       INTEGER NOT NULL,
		interval_ms      BIGINT NOT NULL,
		call_duration_ms BIGINT NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_statistics (
		run_id          TEXT PRIMARY KEY REFERENCES load_test_runs (run_id) ON DELETE CASCADE,
		dispatched      BIGINT NOT NULL DEFAULT 0,
		dispatch_failed BIGINT NOT NULL DEFAULT 0,
		connected       BIGINT NOT NULL DEFAULT 0,
		failed          BIGINT NOT NULL DEFAULT 0,
		ended           BIGINT NOT NULL DEFAULT 0
	)`,
}

var scyllaSchema = []string{
	`CREATE TABLE IF NOT EXISTS calls_by_run (
		run_id          text,
		call_index      int,
		room            text,
		dispatch_id     text,
		state           text,
		trigger         text,
		sip_status_code int,
		sip_status      text,
		failure_message text,
		connected_at    timestamp,
		ended_at        timestamp,
		updated_at      timestamp,
		PRIMARY KEY (run_id, call_index)
	) WITH CLUSTERING ORDER BY (call_index ASC)`,
	`CREATE TABLE IF NOT EXISTS call_events (
		run_id          text,
		call_index      int,
		occurred_at     timestamp,
		state           text,
		trigger         text,
		sip_status_code int,
		sip_status      text,
		message         text,
		PRIMARY KEY ((run_id, call_index), occurred_at, state)
	) WITH CLUSTERING ORDER BY (occurred_at ASC, state ASC)`,
}

// Migrate creates the run and trunk tables when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// EnsureSchema creates the call tables in the session keyspace.
func (s *Scylla) EnsureSchema(ctx context.Context) error {
	for _, stmt := range scyllaSchema {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: ensure schema: %w", err)
		}
	}
	return nil
}
