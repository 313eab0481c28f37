package crawler

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Status is the final state of a visited target.
type Status string

// Page status values.
const (
	StatusSuccess   Status = "success"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Link is one outgoing link discovered on a page, already normalized.
type Link struct {
	Target Target
	// InScope is true when the link shares the seed's host.
	InScope bool
	// Followed is true when the link was eligible for the frontier.
	Followed bool
}

// URL returns the normalized link.
func (l Link) URL() string { return l.Target.String() }

// PageResult is emitted exactly once for every target the crawler dispatched,
// unless the crawl was cancelled while the target was in flight.
type PageResult struct {
	Target      Target
	Status      Status
	StatusCode  int
	FinalURL    string
	Links       []Link
	Failure     FailureKind
	Err         error
	Attempts    int
	ContentHash string
	FetchedAt   time.Time
	Duration    time.Duration
}

// Followed returns the links that should be offered to the frontier.
func (r PageResult) Followed() []Target {
	out := make([]Target, 0, len(r.Links))
	for _, l := range r.Links {
		if l.Followed {
			out = append(out, l.Target)
		}
	}
	return out
}

// Request is a single HTTP GET issued through a Transport.
type Request struct {
	URL    string
	Header http.Header
}

// Response captures the fields the crawler consumes from an HTTP response.
// Non-2xx statuses are returned as responses, not errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Transport performs HTTP GETs. Implementations follow redirects and return an
// error only for network level failures.
type Transport interface {
	Get(ctx context.Context, req Request) (Response, error)
}

// LinkExtractor pulls raw hrefs out of an HTML document. Hrefs that can be
// resolved against base (or a <base> element) are returned absolute.
type LinkExtractor interface {
	ExtractLinks(body []byte, base *url.URL) []string
}

// Rules is a parsed robots.txt file.
type Rules interface {
	Allowed(path, userAgent string) bool
	CrawlDelay(userAgent string) time.Duration
}

// RulesParser turns a robots.txt response into Rules.
type RulesParser func(status int, body []byte) (Rules, error)

// Sink consumes page results in completion order. Emit is never called
// concurrently by the engine.
type Sink interface {
	Emit(ctx context.Context, res PageResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res PageResult) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, res PageResult) error { return f(ctx, res) }

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Hasher produces a content fingerprint for fetched bodies.
type Hasher interface {
	Hash(body []byte) string
}

// Observer receives lifecycle callbacks. Implementations must not block.
type Observer interface {
	CrawlStarted(seed Target)
	FetchAttempted(t Target, attempt int)
	FetchRetried(t Target, attempt int, delay time.Duration, cause error)
	FetchFinished(t Target, statusCode int, bytes int, dur time.Duration)
	PageVisited(res PageResult)
	CrawlFinished(sum Summary)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) CrawlStarted(Target)                            {}
func (NopObserver) FetchAttempted(Target, int)                     {}
func (NopObserver) FetchRetried(Target, int, time.Duration, error) {}
func (NopObserver) FetchFinished(Target, int, int, time.Duration)  {}
func (NopObserver) PageVisited(PageResult)                         {}
func (NopObserver) CrawlFinished(Summary)                          {}
