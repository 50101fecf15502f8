package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-load-test/internal/config"
)

// Postgres holds one pgx pool, shared by a sqlx handle for the run
// repositories and by native pgx queries such as trunk lookups.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgres opens the pool and checks it with a ping.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Postgres{pool: pool, db: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")}, nil
}

// connString builds a URL so credentials with reserved characters survive.
func connString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", "voice-load-test")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// DB exposes the sqlx handle.
func (p *Postgres) DB() *sqlx.DB {
	return p.db
}

// Pool exposes the pgx pool for queries that need native pgx types.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Ping checks that a connection can be acquired.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the sqlx handle, then the pool underneath it.
func (p *Postgres) Close(context.Context) error {
	var err error
	if p.db != nil {
		err = p.db.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
	return err
}
