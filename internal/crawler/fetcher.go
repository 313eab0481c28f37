package crawler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/JakeFAU/sitecrawler/internal/crawler"

// PageFetcher turns one target into one PageResult.
type PageFetcher interface {
	Fetch(ctx context.Context, t Target) PageResult
}

// Fetcher runs the per-target pipeline: robots check, throttled request,
// retry classification and link extraction.
type Fetcher struct {
	transport Transport
	gate      Politeness
	throttle  *Throttle
	retry     RetryPolicy
	extractor LinkExtractor
	scope     Scope
	userAgent string
	hasher    Hasher
	clock     Clock
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHasher sets the content hasher.
func WithHasher(h Hasher) FetcherOption { return func(f *Fetcher) { f.hasher = h } }

// WithClock overrides the clock.
func WithClock(c Clock) FetcherOption { return func(f *Fetcher) { f.clock = c } }

// WithObserver installs lifecycle callbacks.
func WithObserver(o Observer) FetcherOption { return func(f *Fetcher) { f.observer = o } }

// NewFetcher wires the per-target pipeline.
func NewFetcher(
	transport Transport,
	gate Politeness,
	throttle *Throttle,
	retry RetryPolicy,
	extractor LinkExtractor,
	scope Scope,
	userAgent string,
	logger *zap.Logger,
	opts ...FetcherOption,
) *Fetcher {
	if gate == nil {
		gate = AllowAllGate{}
	}
	if throttle == nil {
		throttle = NewThrottle(defaultPerOriginConcurrency, 0, nil)
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		transport: transport,
		gate:      gate,
		throttle:  throttle,
		retry:     retry,
		extractor: extractor,
		scope:     scope,
		userAgent: userAgent,
		clock:     systemClock{},
		observer:  NopObserver{},
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch visits t and reports the result. A result with StatusCancelled means
// ctx ended mid-visit and the result must be discarded.
func (f *Fetcher) Fetch(ctx context.Context, t Target) PageResult {
	ctx, span := f.tracer.Start(ctx, "crawler.fetch", trace.WithAttributes(attribute.String("url.full", t.String())))
	defer span.End()

	start := f.clock.Now()
	res := PageResult{Target: t, FetchedAt: start}
	logger := f.logger.With(zap.String("url", t.String()))

	// backoff sleeps run under ctx, so the crawl deadline interrupts them
	state := RetryState{}

	for {
		if !f.gate.Allowed(ctx, t) {
			if ctx.Err() != nil {
				return f.cancelled(res, ctx.Err(), start)
			}
			logger.Debug("skipping target disallowed by robots.txt")
			res.Status = StatusSkipped
			res.Err = ErrRobotsDisallowed
			res.Duration = f.clock.Now().Sub(start)
			span.SetAttributes(attribute.String("crawler.status", string(res.Status)))
			return res
		}

		state.Attempt++
		res.Attempts = state.Attempt
		f.observer.FetchAttempted(t, state.Attempt)

		attemptStart := f.clock.Now()
		resp, err := f.attempt(ctx, t)
		now := f.clock.Now()
		if err == nil {
			f.observer.FetchFinished(t, resp.StatusCode, len(resp.Body), now.Sub(attemptStart))
		}

		decision := f.retry.Classify(Outcome{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Err:        err,
			At:         now,
		}, state)

		switch decision.Action {
		case ActionProceed:
			f.succeed(&res, resp)
			res.Duration = f.clock.Now().Sub(start)
			span.SetAttributes(
				attribute.Int("http.response.status_code", res.StatusCode),
				attribute.Int("crawler.links", len(res.Links)),
			)
			return res
		case ActionGiveUp:
			if errors.Is(decision.Reason, ErrCancelled) {
				return f.cancelled(res, decision.Reason, start)
			}
			res.Status = StatusFailed
			res.StatusCode = resp.StatusCode
			res.Err = decision.Reason
			res.Failure = classifyFailure(decision.Reason)
			res.Duration = f.clock.Now().Sub(start)
			span.SetStatus(codes.Error, decision.Reason.Error())
			logger.Info("page failed",
				zap.Int("attempts", state.Attempt),
				zap.String("failure", string(res.Failure)),
				zap.Error(decision.Reason))
			return res
		}

		cause := err
		if cause == nil {
			cause = &HTTPStatusError{Status: resp.StatusCode}
		}
		f.observer.FetchRetried(t, state.Attempt, decision.Delay, cause)
		logger.Debug("retrying",
			zap.Int("attempt", state.Attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(cause))
		state.LastDelay = decision.Delay
		if err := sleepContext(ctx, decision.Delay); err != nil {
			return f.cancelled(res, err, start)
		}
	}
}

// attempt performs one throttled request.
func (f *Fetcher) attempt(ctx context.Context, t Target) (Response, error) {
	ticket, err := f.throttle.Acquire(ctx, t.Origin())
	if err != nil {
		return Response{}, err
	}
	defer ticket.Release()

	resp, err := f.transport.Get(ctx, Request{
		URL:    t.String(),
		Header: http.Header{"User-Agent": []string{f.userAgent}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, &TransportError{URL: t.String(), Err: err}
	}
	return resp, nil
}

func (f *Fetcher) succeed(res *PageResult, resp Response) {
	res.Status = StatusSuccess
	res.StatusCode = resp.StatusCode
	res.FinalURL = resp.FinalURL
	if f.hasher != nil && len(resp.Body) > 0 {
		res.ContentHash = f.hasher.Hash(resp.Body)
	}
	if f.extractor == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return
	}

	base := res.Target.URL()
	if resp.FinalURL != "" {
		if u, err := url.Parse(resp.FinalURL); err == nil {
			base = u
		}
	}
	res.Links = f.links(f.extractor.ExtractLinks(resp.Body, base), base)
}

// links normalizes raw hrefs, dropping invalid and duplicate ones while
// keeping document order.
func (f *Fetcher) links(raw []string, base *url.URL) []Link {
	seen := make(map[string]struct{}, len(raw))
	out := make([]Link, 0, len(raw))
	for _, href := range raw {
		t, err := Normalize(href, base)
		if err != nil {
			continue
		}
		if _, dup := seen[t.key]; dup {
			continue
		}
		seen[t.key] = struct{}{}
		out = append(out, Link{
			Target:   t,
			InScope:  f.scope.InScope(t),
			Followed: f.scope.Follow(t),
		})
	}
	return out
}

func (f *Fetcher) cancelled(res PageResult, cause error, start time.Time) PageResult {
	res.Status = StatusCancelled
	res.Err = cause
	if !errors.Is(cause, ErrCancelled) {
		res.Err = errors.Join(ErrCancelled, cause)
	}
	res.Duration = f.clock.Now().Sub(start)
	return res
}

// isHTML treats a missing content type as HTML.
func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
