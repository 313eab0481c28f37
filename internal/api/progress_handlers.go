package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/store"
)

const (
	defaultCrawlLimit = 50
	maxCrawlLimit     = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only crawl progress endpoints.
type ProgressHandler struct {
	repo    store.CrawlRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.CrawlRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListCrawls handles GET /api/crawls?status=&limit=&offset=. It returns
// {"crawls": [...]} on success, 400 for invalid filters, 503 when no repository
// is configured, or 500 if the repository call fails.
func (h *ProgressHandler) ListCrawls(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCrawlLimit, maxCrawlLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.CrawlRunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListCrawls(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list crawls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": toCrawlDTOs(runs)})
}

// GetCrawl handles GET /api/crawls/{crawl_id}. Unknown IDs yield 404.
func (h *ProgressHandler) GetCrawl(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	crawlID, err := parseCrawlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetCrawl(ctx, crawlID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		h.logger.Error("get crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": toCrawlDTO(run)})
}

// ListCrawlSites handles GET /api/crawls/{crawl_id}/sites?limit=&offset=.
func (h *ProgressHandler) ListCrawlSites(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	crawlID, err := parseCrawlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.repo.ListCrawlSites(ctx, crawlID, limit, offset)
	if err != nil {
		h.logger.Error("list crawl sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": toSiteDTOs(sites)})
}

func parseCrawlID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "crawl_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("crawl_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid crawl_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.CrawlRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "completed", "complete":
		return store.RunCompleted, nil
	case "truncated":
		return store.RunTruncated, nil
	default:
		return "", errors.New("invalid status")
	}
}

type crawlDTO struct {
	ID         string     `json:"id"`
	Seed       string     `json:"seed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	StopReason string     `json:"stop_reason,omitempty"`
	Pages      int64      `json:"pages"`
	Note       *string    `json:"note,omitempty"`
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

func toCrawlDTOs(in []store.CrawlRun) []crawlDTO {
	out := make([]crawlDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toCrawlDTO(run))
	}
	return out
}

func toCrawlDTO(run store.CrawlRun) crawlDTO {
	return crawlDTO{
		ID:         run.ID.String(),
		Seed:       run.Seed,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		StopReason: run.StopReason,
		Pages:      run.Pages,
		Note:       run.Note,
	}
}

func toSiteDTOs(in []store.SiteStats) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:       s.Site,
			LastUpdate: s.LastUpdate,
			Visits:     s.Visits,
			BytesTotal: s.BytesTotal,
			Fetch2xx:   s.Fetch2xx,
			Fetch3xx:   s.Fetch3xx,
			Fetch4xx:   s.Fetch4xx,
			Fetch5xx:   s.Fetch5xx,
		})
	}
	return out
}
