package crawler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Politeness answers robots.txt questions for targets and origins.
type Politeness interface {
	Allowed(ctx context.Context, t Target) bool
	CrawlDelay(ctx context.Context, o Origin) time.Duration
}

// GateConfig configures the robots.txt gate.
type GateConfig struct {
	UserAgent    string
	IgnoreRobots bool
}

// NewGate returns the robots.txt gate, or an allow-all gate when robots.txt is
// ignored. Fetching robots.txt goes through transport and takes a throttle
// ticket like any other request.
func NewGate(cfg GateConfig, transport Transport, throttle *Throttle, parse RulesParser, logger *zap.Logger) Politeness {
	if cfg.IgnoreRobots || transport == nil || parse == nil {
		return AllowAllGate{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGate{
		userAgent: cfg.UserAgent,
		transport: transport,
		throttle:  throttle,
		parse:     parse,
		logger:    logger,
	}
}

// AllowAllGate permits everything and imposes no crawl-delay.
type AllowAllGate struct{}

// Allowed always returns true.
func (AllowAllGate) Allowed(context.Context, Target) bool { return true }

// CrawlDelay always returns zero.
func (AllowAllGate) CrawlDelay(context.Context, Origin) time.Duration { return 0 }

// RobotsGate lazily fetches and caches robots.txt once per origin. Concurrent
// callers for an origin whose rules are loading wait for the single fetch.
type RobotsGate struct {
	userAgent string
	transport Transport
	throttle  *Throttle
	parse     RulesParser
	logger    *zap.Logger
	entries   sync.Map // origin string -> *robotsEntry
}

type robotsEntry struct {
	ready chan struct{}
	// rules is nil when every path is allowed.
	rules Rules
	err   error
}

// Allowed reports whether the user agent may fetch t. It returns false when
// ctx is done before the rules are known.
func (g *RobotsGate) Allowed(ctx context.Context, t Target) bool {
	rules, err := g.rulesFor(ctx, t.Origin())
	if err != nil {
		return false
	}
	if rules == nil {
		return true
	}
	return rules.Allowed(t.RequestURI(), g.userAgent)
}

// CrawlDelay returns the robots.txt crawl-delay for o.
func (g *RobotsGate) CrawlDelay(ctx context.Context, o Origin) time.Duration {
	rules, err := g.rulesFor(ctx, o)
	if err != nil || rules == nil {
		return 0
	}
	return rules.CrawlDelay(g.userAgent)
}

func (g *RobotsGate) rulesFor(ctx context.Context, o Origin) (Rules, error) {
	key := o.String()
	for {
		fresh := &robotsEntry{ready: make(chan struct{})}
		actual, loaded := g.entries.LoadOrStore(key, fresh)
		entry := actual.(*robotsEntry)
		if !loaded {
			entry.rules, entry.err = g.load(ctx, o)
			if entry.err != nil {
				// abandoned loads are not cached; the next caller retries
				g.entries.Delete(key)
			} else if entry.rules != nil && g.throttle != nil {
				if d := entry.rules.CrawlDelay(g.userAgent); d > 0 {
					g.throttle.SetMinDelay(o, d)
				}
			}
			close(entry.ready)
		}
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.err == nil {
			return entry.rules, nil
		}
	}
}

// load fetches robots.txt for o. Any failure other than a parseable 2xx
// response yields nil rules, which allow everything. An error is returned only
// when ctx ended before the answer was known.
func (g *RobotsGate) load(ctx context.Context, o Origin) (Rules, error) {
	robotsURL := o.String() + "/robots.txt"
	logger := g.logger.With(zap.String("robots_url", robotsURL))

	if g.throttle != nil {
		ticket, err := g.throttle.Acquire(ctx, o)
		if err != nil {
			logger.Debug("robots fetch abandoned", zap.Error(err))
			return nil, err
		}
		defer ticket.Release()
	}

	resp, err := g.transport.Get(ctx, Request{
		URL:    robotsURL,
		Header: http.Header{"User-Agent": []string{g.userAgent}},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("robots fetch failed, allowing all", zap.Error(err))
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		logger.Debug("robots unavailable, allowing all", zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	rules, err := g.parse(resp.StatusCode, resp.Body)
	if err != nil {
		logger.Warn("robots parse failed, allowing all", zap.Error(err))
		return nil, nil
	}
	logger.Debug("robots loaded")
	return rules, nil
}
