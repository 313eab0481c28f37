package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidURL is returned when a string cannot be turned into an absolute URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotCrawlable marks well-formed URLs whose scheme is not http or https.
	ErrNotCrawlable = errors.New("url is not crawlable")
	// ErrOutOfScope marks targets outside the seed's host.
	ErrOutOfScope = errors.New("url out of scope")
	// ErrRobotsDisallowed marks targets skipped because robots.txt forbids them.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	// ErrRetriesExhausted is returned once the retry budget for a target is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCancelled marks work abandoned because the crawl was cancelled or timed out.
	ErrCancelled = errors.New("crawl cancelled")
)

// HTTPStatusError reports a terminal, non-retryable HTTP status.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d %s", e.Status, http.StatusText(e.Status))
}

// TransportError wraps a network level failure for a URL.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FailureKind classifies why a page ended in StatusFailed.
type FailureKind string

// Failure kinds recorded on PageResult.
const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport_error"
	FailureHTTP      FailureKind = "http_error"
	FailureExhausted FailureKind = "retries_exhausted"
)

func classifyFailure(err error) FailureKind {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrRetriesExhausted):
		return FailureExhausted
	case errors.As(err, &statusErr):
		return FailureHTTP
	default:
		return FailureTransport
	}
}
