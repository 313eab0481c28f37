package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Record is the JSON shape of one PageResult.
type Record struct {
	URL         string       `json:"url"`
	FinalURL    string       `json:"final_url,omitempty"`
	Status      string       `json:"status"`
	StatusCode  int          `json:"status_code,omitempty"`
	Failure     string       `json:"failure,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attempts    int          `json:"attempts,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	Links       []LinkRecord `json:"links"`
	FetchedAt   time.Time    `json:"fetched_at"`
	DurationMS  int64        `json:"duration_ms"`
}

// LinkRecord is one discovered link.
type LinkRecord struct {
	URL      string `json:"url"`
	InScope  bool   `json:"in_scope"`
	Followed bool   `json:"followed"`
}

// NewRecord converts res to its JSON shape.
func NewRecord(res crawler.PageResult) Record {
	rec := Record{
		URL:         res.Target.String(),
		FinalURL:    res.FinalURL,
		Status:      string(res.Status),
		StatusCode:  res.StatusCode,
		Failure:     string(res.Failure),
		Attempts:    res.Attempts,
		ContentHash: res.ContentHash,
		Links:       make([]LinkRecord, 0, len(res.Links)),
		FetchedAt:   res.FetchedAt,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	for _, l := range res.Links {
		rec.Links = append(rec.Links, LinkRecord{URL: l.URL(), InScope: l.InScope, Followed: l.Followed})
	}
	return rec
}

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	enc       *json.Encoder
	hideLinks bool
}

var _ crawler.Sink = (*JSONLSink)(nil)

// NewJSONLSink encodes records to w. With hideLinks the links array is empty.
func NewJSONLSink(w io.Writer, hideLinks bool) *JSONLSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLSink{enc: enc, hideLinks: hideLinks}
}

// Emit encodes res as a single line.
func (s *JSONLSink) Emit(_ context.Context, res crawler.PageResult) error {
	rec := NewRecord(res)
	if s.hideLinks {
		rec.Links = []LinkRecord{}
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}
