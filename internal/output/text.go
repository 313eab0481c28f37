package output

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// TextSink prints each visited page followed by its links:
//
//	https://example.com/
//	  --> https://example.com/about
//	  --> https://twitter.com/example (not followed)
type TextSink struct {
	w         *bufio.Writer
	hideLinks bool
}

var _ crawler.Sink = (*TextSink)(nil)

// NewTextSink writes the report to w. With hideLinks only page URLs are printed.
func NewTextSink(w io.Writer, hideLinks bool) *TextSink {
	return &TextSink{w: bufio.NewWriter(w), hideLinks: hideLinks}
}

// Emit writes one page block and flushes it.
func (s *TextSink) Emit(_ context.Context, res crawler.PageResult) error {
	line := res.Target.String()
	switch res.Status {
	case crawler.StatusSkipped:
		line += " (skipped: robots.txt)"
	case crawler.StatusFailed:
		line += fmt.Sprintf(" (failed: %s)", failureText(res))
	}
	if _, err := fmt.Fprintln(s.w, line); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	if !s.hideLinks {
		for _, l := range res.Links {
			suffix := ""
			if !l.Followed {
				suffix = " (not followed)"
			}
			if _, err := fmt.Fprintf(s.w, "  --> %s%s\n", l.URL(), suffix); err != nil {
				return fmt.Errorf("write link: %w", err)
			}
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func failureText(res crawler.PageResult) string {
	if res.StatusCode != 0 && res.Failure == crawler.FailureHTTP {
		return fmt.Sprintf("HTTP %d", res.StatusCode)
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return string(res.Failure)
}
