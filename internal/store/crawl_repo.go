package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("crawl record not found")

// CrawlRunStatus mirrors the crawl_runs status column.
type CrawlRunStatus string

// Crawl run statuses persisted in crawl_runs.status.
const (
	RunRunning   CrawlRunStatus = "running"
	RunCompleted CrawlRunStatus = "completed"
	RunTruncated CrawlRunStatus = "truncated"
)

// StatusForReason maps a crawl stop reason onto the persisted run status.
func StatusForReason(reason string) CrawlRunStatus {
	if reason == "frontier_exhausted" {
		return RunCompleted
	}
	return RunTruncated
}

// CrawlRun models one row of crawl_runs.
type CrawlRun struct {
	// ID is the crawl identifier shared with progress events.
	ID   uuid.UUID
	Seed string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run ends.
	FinishedAt *time.Time
	Status     CrawlRunStatus
	// StopReason is empty while running.
	StopReason string
	Pages      int64
	Note       *string
}

// SiteStats captures per-host aggregation for a crawl.
type SiteStats struct {
	CrawlID uuid.UUID
	// Site is the lower-cased host (e.g., example.com).
	Site string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Visits counts completed fetch attempts for the site.
	Visits     int64
	BytesTotal int64
	Fetch2xx   int64
	Fetch3xx   int64
	Fetch4xx   int64
	Fetch5xx   int64
}

// CrawlRepository persists incremental crawl progress.
type CrawlRepository interface {
	// StartCrawl inserts (or idempotently keeps) the running row.
	StartCrawl(ctx context.Context, crawlID uuid.UUID, seed string, startedAt time.Time) error
	// FinishCrawl records the stop reason and page count.
	FinishCrawl(ctx context.Context, crawlID uuid.UUID, finishedAt time.Time, reason string, pages int64, note *string) error
	// AddSiteStats applies visit/byte deltas per (crawl, site, statusClass).
	AddSiteStats(
		ctx context.Context,
		crawlID uuid.UUID,
		site string,
		statusClass string,
		deltaVisits int64,
		deltaBytes int64,
		at time.Time,
	) error

	// GetCrawl loads a single crawl run or returns ErrNotFound.
	GetCrawl(ctx context.Context, crawlID uuid.UUID) (CrawlRun, error)
	// ListCrawls returns runs filtered by optional status plus limit/offset.
	ListCrawls(ctx context.Context, status *CrawlRunStatus, limit, offset int) ([]CrawlRun, error)
	// ListCrawlSites returns aggregated site stats for one crawl.
	ListCrawlSites(ctx context.Context, crawlID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
