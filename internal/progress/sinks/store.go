package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/store"
)

// StoreSink persists progress deltas via a store.CrawlRepository. Site-level
// counters are collapsed per batch to reduce write amplification.
type StoreSink struct {
	repo   store.CrawlRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CrawlRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards crawl lifecycle events immediately and flushes collapsed
// site deltas at the end of the batch. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		crawlID := uuid.UUID(evt.CrawlID)
		switch evt.Stage {
		case progress.StageCrawlStart:
			if err := s.repo.StartCrawl(ctx, crawlID, evt.URL, evt.TS); err != nil {
				return fmt.Errorf("start crawl: %w", err)
			}
		case progress.StageCrawlDone:
			// pending site deltas must land before the run is closed
			if err := s.flush(ctx, stats); err != nil {
				return err
			}
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.FinishCrawl(ctx, crawlID, evt.TS, evt.Result, evt.Pages, note); err != nil {
				return fmt.Errorf("finish crawl: %w", err)
			}
		case progress.StageFetchDone:
			recordSiteStats(stats, crawlID, evt)
		}
	}
	return s.flush(ctx, stats)
}

func (s *StoreSink) flush(ctx context.Context, stats map[statsKey]*statsDelta) error {
	for key, delta := range stats {
		if delta.visits == 0 && delta.bytes == 0 {
			delete(stats, key)
			continue
		}
		if err := s.repo.AddSiteStats(
			ctx,
			key.crawlID,
			key.site,
			key.statusClass,
			delta.visits,
			delta.bytes,
			delta.at,
		); err != nil {
			return fmt.Errorf("add site stats: %w", err)
		}
		delete(stats, key)
	}
	return nil
}

func recordSiteStats(stats map[statsKey]*statsDelta, crawlID uuid.UUID, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	statusClass := evt.StatusClass
	if statusClass == "" {
		statusClass = progress.ClassifyStatus(evt.StatusCode)
	}
	key := statsKey{
		crawlID:     crawlID,
		site:        evt.Site,
		statusClass: string(statusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.visits++
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	crawlID     uuid.UUID
	site        string
	statusClass string
}

type statsDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}
