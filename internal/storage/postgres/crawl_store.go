package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecrawler/internal/store"
)

// CrawlStore implements store.CrawlRepository using Postgres.
type CrawlStore struct {
	pool dbPool
}

var _ store.CrawlRepository = (*CrawlStore)(nil)

// NewCrawlStoreWithPool constructs a store from an existing pool.
func NewCrawlStoreWithPool(pool dbPool) (*CrawlStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlStore{pool: pool}, nil
}

// StartCrawl inserts the running row for a crawl.
func (s *CrawlStore) StartCrawl(ctx context.Context, crawlID uuid.UUID, seed string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, seed, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, crawlID, seed, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start crawl: %w", err)
	}
	return nil
}

// FinishCrawl marks a crawl as completed or truncated.
func (s *CrawlStore) FinishCrawl(
	ctx context.Context,
	crawlID uuid.UUID,
	finishedAt time.Time,
	reason string,
	pages int64,
	note *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, stop_reason = $3, pages = $4, note = $5
		WHERE id = $6;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, store.StatusForReason(reason), reason, pages, note, crawlID)
	if err != nil {
		return fmt.Errorf("failed to finish crawl: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddSiteStats applies visit and byte deltas for one site and status class.
func (s *CrawlStore) AddSiteStats(
	ctx context.Context,
	crawlID uuid.UUID,
	site string,
	statusClass string,
	deltaVisits,
	deltaBytes int64,
	at time.Time,
) error {
	var fetch2xx, fetch3xx, fetch4xx, fetch5xx int64
	switch statusClass {
	case "2xx":
		fetch2xx = deltaVisits
	case "3xx":
		fetch3xx = deltaVisits
	case "4xx":
		fetch4xx = deltaVisits
	case "5xx":
		fetch5xx = deltaVisits
	case "other":
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	query := `
		INSERT INTO site_stats (crawl_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (crawl_id, site) DO UPDATE SET
			last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update),
			visits = site_stats.visits + EXCLUDED.visits,
			bytes_total = site_stats.bytes_total + EXCLUDED.bytes_total,
			fetch_2xx = site_stats.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx = site_stats.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx = site_stats.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx = site_stats.fetch_5xx + EXCLUDED.fetch_5xx;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		crawlID,
		site,
		at,
		deltaVisits,
		deltaBytes,
		fetch2xx,
		fetch3xx,
		fetch4xx,
		fetch5xx,
	)
	if err != nil {
		return fmt.Errorf("failed to add site stats: %w", err)
	}
	return nil
}

const crawlColumns = `id, seed, started_at, finished_at, status, stop_reason, pages, note`

func scanCrawl(row pgx.Row) (store.CrawlRun, error) {
	var run store.CrawlRun
	err := row.Scan(
		&run.ID,
		&run.Seed,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.StopReason,
		&run.Pages,
		&run.Note,
	)
	return run, err
}

// GetCrawl retrieves a single crawl run by its ID.
func (s *CrawlStore) GetCrawl(ctx context.Context, crawlID uuid.UUID) (store.CrawlRun, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanCrawl(s.pool.QueryRow(ctx, query, crawlID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("failed to get crawl: %w", err)
	}
	return run, nil
}

// ListCrawls retrieves crawl runs, newest first, with optional status filtering.
func (s *CrawlStore) ListCrawls(
	ctx context.Context,
	status *store.CrawlRunStatus,
	limit,
	offset int,
) ([]store.CrawlRun, error) {
	query := `SELECT ` + crawlColumns + `
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var runs []store.CrawlRun
	for rows.Next() {
		run, err := scanCrawl(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crawl rows: %w", err)
	}
	return runs, nil
}

// ListCrawlSites retrieves aggregated site statistics for a crawl.
func (s *CrawlStore) ListCrawlSites(
	ctx context.Context,
	crawlID uuid.UUID,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	query := `
		SELECT crawl_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM site_stats
		WHERE crawl_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, crawlID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		err := rows.Scan(
			&stat.CrawlID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Visits,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate site stats rows: %w", err)
	}
	return stats, nil
}
