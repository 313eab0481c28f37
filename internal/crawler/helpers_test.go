package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/robots"
)

const testAgent = "sitecrawler/1.0 (+https://github.com/JakeFAU/sitecrawler)"

// reply is one scripted transport answer.
type reply struct {
	status int
	header http.Header
	body   string
	err    error
}

func html(links ...string) reply {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</body></html>")
	return reply{status: http.StatusOK, header: http.Header{"Content-Type": {"text/html; charset=utf-8"}}, body: b.String()}
}

func status(code int) reply { return reply{status: code} }

// fakeTransport serves scripted replies per URL. The last reply for a URL
// repeats once the script is used up; unknown URLs get 404.
type fakeTransport struct {
	mu      sync.Mutex
	routes  map[string][]reply
	calls   map[string]int
	order   []string
	latency time.Duration
	block   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{routes: make(map[string][]reply), calls: make(map[string]int)}
}

func (f *fakeTransport) on(url string, replies ...reply) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = replies
	return f
}

func (f *fakeTransport) Get(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	n := f.calls[req.URL]
	f.calls[req.URL] = n + 1
	f.order = append(f.order, req.URL)
	script := f.routes[req.URL]
	latency, block := f.latency, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if latency > 0 {
		if err := sleepContext(ctx, latency); err != nil {
			return Response{}, err
		}
	}

	r := status(http.StatusNotFound)
	if len(script) > 0 {
		r = script[min(n, len(script)-1)]
	}
	if r.err != nil {
		return Response{}, r.err
	}
	return Response{StatusCode: r.status, Header: r.header, Body: []byte(r.body), FinalURL: req.URL}, nil
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeTransport) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func parseRobots(status int, body []byte) (Rules, error) {
	return robots.Parse(status, body)
}

// collectSink records emitted results.
type collectSink struct {
	mu      sync.Mutex
	results []PageResult
}

func (c *collectSink) Emit(_ context.Context, res PageResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	return nil
}

func (c *collectSink) byURL() map[string]PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]PageResult, len(c.results))
	for _, r := range c.results {
		out[r.Target.String()] = r
	}
	return out
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// MockSink is a testify mock for Sink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Emit(ctx context.Context, res PageResult) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

// recordingObserver counts callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	started  int
	attempts int
	retries  int
	finished int
	visited  int
	done     []Summary
}

func (o *recordingObserver) CrawlStarted(Target) { o.mu.Lock(); o.started++; o.mu.Unlock() }
func (o *recordingObserver) FetchAttempted(Target, int) {
	o.mu.Lock()
	o.attempts++
	o.mu.Unlock()
}
func (o *recordingObserver) FetchRetried(Target, int, time.Duration, error) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}
func (o *recordingObserver) FetchFinished(Target, int, int, time.Duration) {
	o.mu.Lock()
	o.finished++
	o.mu.Unlock()
}
func (o *recordingObserver) PageVisited(PageResult) { o.mu.Lock(); o.visited++; o.mu.Unlock() }
func (o *recordingObserver) CrawlFinished(s Summary) {
	o.mu.Lock()
	o.done = append(o.done, s)
	o.mu.Unlock()
}

func testConfig(seed string) Config {
	return Config{
		Seed:                 seed,
		UserAgent:            testAgent,
		MaxConcurrency:       8,
		PerOriginConcurrency: 2,
		Retry: RetryConfig{
			BaseDelay:  time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			MaxRetries: 3,
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, tr Transport, sink Sink, obs Observer) *Engine {
	t.Helper()
	e, err := New(cfg, Components{
		Transport:   tr,
		Extractor:   extract.New(),
		RulesParser: parseRobots,
		Sink:        sink,
		Observer:    obs,
	}, nil)
	require.NoError(t, err)
	return e
}

func newTestFetcher(tr Transport, gate Politeness, seed string, retry RetryConfig, opts ...FetcherOption) *Fetcher {
	return NewFetcher(tr, gate, NewThrottle(2, 0, nil), NewExponentialRetryPolicy(retry),
		extract.New(), NewScope(MustNormalize(seed)), testAgent, nil, opts...)
}
