package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngineCrawlsSameHostOnly(t *testing.T) {
	// Arrange
	tr := newFakeTransport().
		on("https://x.test/", html("/a", "/b", "https://other.test/c")).
		on("https://x.test/a", html("/b", "/")).
		on("https://x.test/b", html())
	sink := &collectSink{}
	obs := &recordingObserver{}
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, sink, obs)

	// Act
	sum, err := engine.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, sum.Reason)
	assert.Equal(t, OutcomeCompleted, sum.Outcome())
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 3, sum.Succeeded)

	results := sink.byURL()
	require.Len(t, results, 3)
	for _, u := range []string{"https://x.test/", "https://x.test/a", "https://x.test/b"} {
		require.Contains(t, results, u)
		assert.Equal(t, StatusSuccess, results[u].Status)
	}

	root := results["https://x.test/"]
	require.Len(t, root.Links, 3)
	assert.Equal(t, "https://other.test/c", root.Links[2].URL())
	assert.False(t, root.Links[2].Followed)
	assert.False(t, root.Links[2].InScope)

	for _, u := range tr.requested() {
		assert.NotContains(t, u, "other.test", "out-of-scope hosts are never requested")
	}
	for _, u := range []string{"https://x.test/", "https://x.test/a", "https://x.test/b"} {
		assert.Equal(t, 1, tr.callCount(u), "%s fetched more than once", u)
	}

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 3, obs.visited)
	require.Len(t, obs.done, 1)
	assert.Equal(t, sum, obs.done[0])
}

func TestEngineVisitsEachTargetOnceInCyclicGraph(t *testing.T) {
	tr := newFakeTransport()
	const n = 30
	for i := 0; i < n; i++ {
		// every page links to the next three and back to the root
		tr.on(fmt.Sprintf("https://x.test/p/%d", i), html(
			fmt.Sprintf("/p/%d", (i+1)%n),
			fmt.Sprintf("/p/%d/", (i+2)%n),
			fmt.Sprintf("https://X.test/p/%d#frag", (i+3)%n),
			"/p/0",
		))
	}
	sink := &collectSink{}
	engine := newTestEngine(t, testConfig("https://x.test/p/0"), tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopExhausted, sum.Reason)
	assert.Equal(t, n, sum.Pages)
	assert.Equal(t, n, sink.len())
	assert.Len(t, sink.byURL(), n, "every result must be for a distinct target")
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, tr.callCount(fmt.Sprintf("https://x.test/p/%d", i)))
	}
}

func TestEngineStopsAtMaxPages(t *testing.T) {
	tr := newFakeTransport()
	for i := 0; i < 50; i++ {
		var links []string
		for j := 1; j <= 10; j++ {
			links = append(links, fmt.Sprintf("/p/%d", i*10+j))
		}
		tr.on(fmt.Sprintf("https://x.test/p/%d", i), html(links...))
	}
	sink := &collectSink{}
	cfg := testConfig("https://x.test/p/0")
	cfg.MaxPages = 5
	engine := newTestEngine(t, cfg, tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopMaxPages, sum.Reason)
	assert.Equal(t, OutcomeTruncated, sum.Outcome())
	assert.Equal(t, 5, sum.Dispatched)
	assert.LessOrEqual(t, sink.len(), 5)
	assert.Equal(t, 5, sink.len(), "in-flight fetches finish after the limit is hit")
	assert.Positive(t, sum.Pending)
}

func TestEngineMaxPagesEqualToSiteSizeIsComplete(t *testing.T) {
	tr := newFakeTransport().
		on("https://x.test/", html("/a")).
		on("https://x.test/a", html())
	cfg := testConfig("https://x.test/")
	cfg.MaxPages = 2
	engine := newTestEngine(t, cfg, tr, &collectSink{}, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, sum.Reason)
	assert.Equal(t, 2, sum.Pages)
}

func TestEngineMaxTimeDropsInFlightResults(t *testing.T) {
	tr := newFakeTransport()
	tr.block = true
	sink := &collectSink{}
	cfg := testConfig("https://x.test/")
	cfg.MaxTime = 50 * time.Millisecond
	engine := newTestEngine(t, cfg, tr, sink, nil)

	start := time.Now()
	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StopMaxTime, sum.Reason)
	assert.Equal(t, OutcomeTruncated, sum.Outcome())
	assert.Zero(t, sink.len(), "cancelled fetches produce no result")
	assert.Equal(t, 1, sum.Dropped)
}

func TestEngineBackoffPastMaxTimeIsTruncated(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/", reply{
		status: http.StatusServiceUnavailable,
		header: http.Header{"Retry-After": {"5"}},
	})
	sink := &collectSink{}
	cfg := testConfig("https://x.test/")
	cfg.IgnoreRobots = true
	cfg.MaxTime = 100 * time.Millisecond
	cfg.Retry.MaxDelay = 10 * time.Second
	engine := newTestEngine(t, cfg, tr, sink, nil)

	start := time.Now()
	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, cfg.MaxTime, "the backoff runs until the deadline interrupts it")
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, StopMaxTime, sum.Reason)
	assert.Equal(t, OutcomeTruncated, sum.Outcome())
	assert.Equal(t, 1, sum.Dropped)
	assert.Zero(t, sink.len())
}

func TestEngineExternalCancellation(t *testing.T) {
	tr := newFakeTransport()
	tr.block = true
	sink := &collectSink{}
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	sum, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, sum.Reason)
	assert.Zero(t, sink.len())
}

func TestEngineRespectsRobots(t *testing.T) {
	tr := newFakeTransport().
		on("https://x.test/robots.txt", robotsReply("User-agent: *\nDisallow: /private/\n")).
		on("https://x.test/", html("/private/x", "/public")).
		on("https://x.test/private/x", html()).
		on("https://x.test/public", html())
	sink := &collectSink{}
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	results := sink.byURL()
	require.Len(t, results, 3)
	assert.Equal(t, StatusSkipped, results["https://x.test/private/x"].Status)
	assert.Equal(t, StatusSuccess, results["https://x.test/public"].Status)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, tr.callCount("https://x.test/private/x"))
	assert.Equal(t, 1, tr.callCount("https://x.test/robots.txt"))
}

func TestEngineIgnoreRobots(t *testing.T) {
	tr := newFakeTransport().
		on("https://x.test/robots.txt", robotsReply("User-agent: *\nDisallow: /\n")).
		on("https://x.test/", html("/private/x")).
		on("https://x.test/private/x", html())
	cfg := testConfig("https://x.test/")
	cfg.IgnoreRobots = true
	sink := &collectSink{}
	engine := newTestEngine(t, cfg, tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Zero(t, tr.callCount("https://x.test/robots.txt"))
}

func TestEngineReportsFailuresAndRetries(t *testing.T) {
	tr := newFakeTransport().
		on("https://x.test/", html("/flaky", "/gone")).
		on("https://x.test/flaky", status(http.StatusServiceUnavailable), status(http.StatusServiceUnavailable), html()).
		on("https://x.test/gone", status(http.StatusNotFound))
	sink := &collectSink{}
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	results := sink.byURL()
	assert.Equal(t, StatusSuccess, results["https://x.test/flaky"].Status)
	assert.Equal(t, 3, results["https://x.test/flaky"].Attempts)
	assert.Equal(t, StatusFailed, results["https://x.test/gone"].Status)
	assert.Equal(t, 1, tr.callCount("https://x.test/gone"))
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, StopExhausted, sum.Reason)
}

func TestEngineSinkErrorsDoNotStopCrawl(t *testing.T) {
	tr := newFakeTransport().
		on("https://x.test/", html("/a")).
		on("https://x.test/a", html())
	sink := &MockSink{}
	sink.On("Emit", mock.Anything, mock.AnythingOfType("crawler.PageResult")).Return(errors.New("disk full"))
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, sink, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pages)
	sink.AssertNumberOfCalls(t, "Emit", 2)
}

func TestEngineRespectsGlobalConcurrency(t *testing.T) {
	fetcher := &gaugeFetcher{delay: 10 * time.Millisecond}
	for i := 0; i < 20; i++ {
		fetcher.children = append(fetcher.children, MustNormalize(fmt.Sprintf("https://x.test/c/%d", i)))
	}
	cfg := testConfig("https://x.test/")
	cfg.MaxConcurrency = 3
	engine := NewEngine(cfg, MustNormalize("https://x.test/"), fetcher, &collectSink{}, nil, nil)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, sum.Pages)
	assert.LessOrEqual(t, fetcher.peak.Load(), int64(3))
	assert.Equal(t, int64(3), fetcher.peak.Load(), "twenty siblings should saturate the cap")
}

// gaugeFetcher fans the seed out to children and records peak concurrency.
type gaugeFetcher struct {
	delay    time.Duration
	children []Target
	current  atomic.Int64
	peak     atomic.Int64
}

func (g *gaugeFetcher) Fetch(ctx context.Context, target Target) PageResult {
	n := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if err := sleepContext(ctx, g.delay); err != nil {
		return PageResult{Target: target, Status: StatusCancelled, Err: err}
	}
	res := PageResult{Target: target, Status: StatusSuccess, StatusCode: http.StatusOK}
	if target.RequestURI() == "/" {
		for _, c := range g.children {
			res.Links = append(res.Links, Link{Target: c, InScope: true, Followed: true})
		}
	}
	return res
}

func TestEngineRejectsInvalidSeed(t *testing.T) {
	cfg := testConfig("not a url")
	_, err := New(cfg, Components{Transport: newFakeTransport()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidURL)

	cfg = testConfig("ftp://x.test/")
	_, err = New(cfg, Components{Transport: newFakeTransport()}, nil)
	assert.ErrorIs(t, err, ErrNotCrawlable)
}

func TestEngineSnapshot(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/", html("/a")).on("https://x.test/a", html())
	engine := newTestEngine(t, testConfig("https://x.test/"), tr, &collectSink{}, nil)

	before := engine.Snapshot()
	assert.False(t, before.Running)
	assert.Equal(t, "https://x.test/", before.Seed)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	after := engine.Snapshot()
	assert.Equal(t, int64(2), after.Pages)
	assert.Equal(t, 2, after.Discovered)
	assert.Zero(t, after.InFlight)
}
