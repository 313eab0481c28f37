package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// PageStore writes one row per visited page. It implements crawler.Sink.
type PageStore struct {
	pool    dbPool
	table   string
	crawlID uuid.UUID
}

var _ crawler.Sink = (*PageStore)(nil)

// NewPageStoreWithPool constructs a page sink for crawlID on an existing pool.
func NewPageStoreWithPool(pool dbPool, table string, crawlID uuid.UUID) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PageStore{pool: pool, table: table, crawlID: crawlID}, nil
}

type linkRow struct {
	URL      string `json:"url"`
	InScope  bool   `json:"in_scope"`
	Followed bool   `json:"followed"`
}

// Emit upserts the page row. Re-emitting a URL for the same crawl replaces the
// previous row.
func (s *PageStore) Emit(ctx context.Context, res crawler.PageResult) error {
	links := make([]linkRow, 0, len(res.Links))
	for _, l := range res.Links {
		links = append(links, linkRow{URL: l.URL(), InScope: l.InScope, Followed: l.Followed})
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	var errText *string
	if res.Err != nil {
		msg := res.Err.Error()
		errText = &msg
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	crawl_id,
	url,
	final_url,
	status,
	status_code,
	failure,
	error,
	attempts,
	content_hash,
	links,
	fetched_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (crawl_id, url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	status = EXCLUDED.status,
	status_code = EXCLUDED.status_code,
	failure = EXCLUDED.failure,
	error = EXCLUDED.error,
	attempts = EXCLUDED.attempts,
	content_hash = EXCLUDED.content_hash,
	links = EXCLUDED.links,
	fetched_at = EXCLUDED.fetched_at,
	duration_ms = EXCLUDED.duration_ms`, s.table)

	args := []any{
		s.crawlID,
		res.Target.String(),
		res.FinalURL,
		string(res.Status),
		res.StatusCode,
		string(res.Failure),
		errText,
		res.Attempts,
		res.ContentHash,
		linksJSON,
		res.FetchedAt,
		res.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}
