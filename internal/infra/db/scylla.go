package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"github.com/acme/voice-load-test/internal/config"
)

// Scylla wraps the gocql session holding call records.
type Scylla struct {
	session *gocql.Session
}

// NewScylla connects to the cluster with the configured keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	consistency, err := parseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}
	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against the coordinator.
func (s *Scylla) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// parseConsistency accepts gocql level names in any case. Empty means quorum.
func parseConsistency(level string) (gocql.Consistency, error) {
	if level == "" {
		return gocql.Quorum, nil
	}
	c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(level))
	if err != nil {
		return 0, fmt.Errorf("scylla: consistency %q: %w", level, err)
	}
	return c, nil
}
