package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Format selects the report encoding.
type Format string

// Supported formats.
const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts the formats case-insensitively; empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSONL, "json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Options configures Open.
type Options struct {
	// Path is the report file; empty writes to Stdout.
	Path      string
	Format    Format
	HideLinks bool
	Stdout    io.Writer
}

// Writer is a crawler.Sink that owns its destination.
type Writer struct {
	crawler.Sink
	closer io.Closer
}

// Close releases the destination file, if any.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	if err := w.closer.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

// Open builds the report sink described by opts.
func Open(opts Options) (*Writer, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	var closer io.Closer
	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create report dir %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open report %s: %w", opts.Path, err)
		}
		out = f
		closer = f
	}
	var sink crawler.Sink
	switch opts.Format {
	case "", FormatText:
		sink = NewTextSink(out, opts.HideLinks)
	case FormatJSONL:
		sink = NewJSONLSink(out, opts.HideLinks)
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
	return &Writer{Sink: sink, closer: closer}, nil
}

// Multi fans each result out to every sink. All sinks see every result; the
// errors are joined.
type Multi []crawler.Sink

// Emit implements crawler.Sink.
func (m Multi) Emit(ctx context.Context, res crawler.PageResult) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
