package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func robotsReply(body string) reply {
	return reply{status: http.StatusOK, header: http.Header{"Content-Type": {"text/plain"}}, body: body}
}

func newTestGate(tr Transport, throttle *Throttle) Politeness {
	return NewGate(GateConfig{UserAgent: testAgent}, tr, throttle, parseRobots, nil)
}

func TestRobotsGateDisallowsPaths(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt",
		robotsReply("User-agent: *\nDisallow: /private/\n"))
	gate := newTestGate(tr, nil)
	ctx := context.Background()

	assert.False(t, gate.Allowed(ctx, MustNormalize("https://x.test/private/x")))
	assert.True(t, gate.Allowed(ctx, MustNormalize("https://x.test/public")))
	assert.True(t, gate.Allowed(ctx, MustNormalize("https://x.test/")))
	assert.Equal(t, 1, tr.callCount("https://x.test/robots.txt"))
}

func TestRobotsGateMatchesQueryString(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt",
		robotsReply("User-agent: *\nDisallow: /search?q=\n"))
	gate := newTestGate(tr, nil)

	assert.False(t, gate.Allowed(context.Background(), MustNormalize("https://x.test/search?q=term")))
	assert.True(t, gate.Allowed(context.Background(), MustNormalize("https://x.test/search")))
}

func TestRobotsGateFetchesOncePerOrigin(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt",
		robotsReply("User-agent: *\nDisallow: /private/\n"))
	tr.latency = 20 * time.Millisecond
	gate := newTestGate(tr, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, gate.Allowed(context.Background(), MustNormalize("https://x.test/private/y")))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tr.callCount("https://x.test/robots.txt"))

	// a different origin gets its own fetch
	gate.Allowed(context.Background(), MustNormalize("http://x.test/private/y"))
	assert.Equal(t, 1, tr.callCount("http://x.test/robots.txt"))
}

func TestRobotsGateFailsOpen(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
	}{
		{name: "not found", reply: status(http.StatusNotFound)},
		{name: "forbidden", reply: status(http.StatusForbidden)},
		{name: "server error", reply: status(http.StatusInternalServerError)},
		{name: "network error", reply: reply{err: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport().on("https://x.test/robots.txt", tt.reply)
			gate := newTestGate(tr, nil)
			assert.True(t, gate.Allowed(context.Background(), MustNormalize("https://x.test/private/x")))
			assert.Zero(t, gate.CrawlDelay(context.Background(), MustNormalize("https://x.test/").Origin()))
		})
	}
}

func TestRobotsGateAppliesCrawlDelay(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt",
		robotsReply("User-agent: *\nCrawl-delay: 2\n"))
	throttle := NewThrottle(1, 0, nil)
	gate := newTestGate(tr, throttle)
	origin := MustNormalize("https://x.test/").Origin()

	assert.Equal(t, 2*time.Second, gate.CrawlDelay(context.Background(), origin))
	assert.Equal(t, 2*time.Second, throttle.MinDelay(origin))
	assert.Equal(t, 0, throttle.InFlight(origin), "robots fetch must release its ticket")
}

func TestRobotsGateCancelledWhileWaiting(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt", robotsReply("User-agent: *\nDisallow:\n"))
	tr.block = true
	gate := newTestGate(tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, gate.Allowed(ctx, MustNormalize("https://x.test/")))
}

func TestNewGateIgnoreRobots(t *testing.T) {
	tr := newFakeTransport().on("https://x.test/robots.txt", robotsReply("User-agent: *\nDisallow: /\n"))
	gate := NewGate(GateConfig{UserAgent: testAgent, IgnoreRobots: true}, tr, nil, parseRobots, nil)

	require.IsType(t, AllowAllGate{}, gate)
	assert.True(t, gate.Allowed(context.Background(), MustNormalize("https://x.test/anything")))
	assert.Empty(t, tr.requested())
}
