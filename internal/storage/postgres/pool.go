// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	PagesTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DefaultPagesTable receives one row per visited page.
const DefaultPagesTable = "crawl_pages"

// dbPool is the subset of *pgxpool.Pool the stores use; pgxmock satisfies it.
type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Open parses cfg and connects a pool.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultPagesTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the crawl_runs, site_stats and pages tables when they
// are missing.
func EnsureSchema(ctx context.Context, pool dbPool, pagesTable string) error {
	table, err := tableName(pagesTable)
	if err != nil {
		return err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	seed TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	stop_reason TEXT NOT NULL DEFAULT '',
	pages BIGINT NOT NULL DEFAULT 0,
	note TEXT
)`,
		`CREATE TABLE IF NOT EXISTS site_stats (
	crawl_id UUID NOT NULL REFERENCES crawl_runs (id) ON DELETE CASCADE,
	site TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	visits BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	fetch_2xx BIGINT NOT NULL DEFAULT 0,
	fetch_3xx BIGINT NOT NULL DEFAULT 0,
	fetch_4xx BIGINT NOT NULL DEFAULT 0,
	fetch_5xx BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (crawl_id, site)
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	crawl_id UUID NOT NULL,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	status_code INT NOT NULL DEFAULT 0,
	failure TEXT NOT NULL DEFAULT '',
	error TEXT,
	attempts INT NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	links JSONB NOT NULL DEFAULT '[]',
	fetched_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (crawl_id, url)
)`, table),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
