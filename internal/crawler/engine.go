package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// StopReason explains why a crawl ended.
type StopReason string

// Stop reasons.
const (
	StopExhausted StopReason = "frontier_exhausted"
	StopMaxPages  StopReason = "max_pages"
	StopMaxTime   StopReason = "max_time"
	StopCancelled StopReason = "cancelled"
)

// RunOutcome is the coarse result reported to the operator.
type RunOutcome string

// Run outcomes.
const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeTruncated RunOutcome = "truncated"
)

// Summary describes a finished crawl.
type Summary struct {
	Seed       string
	Reason     StopReason
	Dispatched int
	Pages      int
	Succeeded  int
	Skipped    int
	Failed     int
	Dropped    int
	Discovered int
	Pending    int
	Started    time.Time
	Elapsed    time.Duration
}

// Outcome maps the stop reason onto completed or truncated.
func (s Summary) Outcome() RunOutcome {
	if s.Reason == StopExhausted {
		return OutcomeCompleted
	}
	return OutcomeTruncated
}

// Snapshot is a live view of a running crawl.
type Snapshot struct {
	Seed       string    `json:"seed"`
	Running    bool      `json:"running"`
	Started    time.Time `json:"started_at"`
	Dispatched int64     `json:"dispatched"`
	InFlight   int64     `json:"in_flight"`
	Pages      int64     `json:"pages"`
	Succeeded  int64     `json:"succeeded"`
	Skipped    int64     `json:"skipped"`
	Failed     int64     `json:"failed"`
	Queued     int       `json:"queued"`
	Discovered int       `json:"discovered"`
}

// Engine drives the crawl: it pops targets from the frontier, fans them out to
// the fetcher under a global concurrency cap, feeds discovered links back and
// emits results to the sink.
type Engine struct {
	cfg      Config
	seed     Target
	fetcher  PageFetcher
	sink     Sink
	observer Observer
	logger   *zap.Logger
	clock    Clock
	tracer   trace.Tracer

	frontier *Frontier
	signal   chan struct{}
	emitMu   sync.Mutex

	running    atomic.Bool
	started    atomic.Int64
	dispatched atomic.Int64
	inFlight   atomic.Int64
	pages      atomic.Int64
	succeeded  atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// NewEngine builds an engine around an already constructed fetcher.
func NewEngine(cfg Config, seed Target, fetcher PageFetcher, sink Sink, observer Observer, logger *zap.Logger) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, PageResult) error { return nil })
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		seed:     seed,
		fetcher:  fetcher,
		sink:     sink,
		observer: observer,
		logger:   logger,
		clock:    systemClock{},
		tracer:   otel.Tracer(tracerName),
		frontier: NewFrontier(),
		signal:   make(chan struct{}, 1),
	}
}

// Components groups the collaborators New needs to assemble an engine.
type Components struct {
	Transport   Transport
	Extractor   LinkExtractor
	RulesParser RulesParser
	Hasher      Hasher
	Sink        Sink
	Observer    Observer
	Clock       Clock
}

// New normalizes the seed and assembles throttle, gate, retry policy and
// fetcher from cfg. An invalid seed is a startup error.
func New(cfg Config, c Components, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed, err := Normalize(cfg.Seed, nil)
	if err != nil {
		return nil, fmt.Errorf("seed %q: %w", cfg.Seed, err)
	}
	if c.Transport == nil {
		return nil, errors.New("crawler: transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}

	throttle := NewThrottle(cfg.PerOriginConcurrency, cfg.MinDelay, c.Clock)
	gate := NewGate(GateConfig{UserAgent: cfg.UserAgent, IgnoreRobots: cfg.IgnoreRobots},
		c.Transport, throttle, c.RulesParser, logger.Named("robots"))
	fetcher := NewFetcher(c.Transport, gate, throttle, NewExponentialRetryPolicy(cfg.Retry),
		c.Extractor, NewScope(seed), cfg.UserAgent, logger.Named("fetcher"),
		WithHasher(c.Hasher), WithClock(c.Clock), WithObserver(c.Observer))

	e := NewEngine(cfg, seed, fetcher, c.Sink, c.Observer, logger)
	e.clock = c.Clock
	return e, nil
}

// Seed returns the normalized seed.
func (e *Engine) Seed() Target { return e.seed }

// Run crawls until the frontier is exhausted, a limit is hit, or ctx ends.
// The returned error is non-nil only for internal failures; cancellation and
// limits are reported through Summary.Reason.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if e.fetcher == nil {
		return Summary{}, errors.New("crawler: fetcher is required")
	}
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, errors.New("crawler: engine already running")
	}
	defer e.running.Store(false)

	start := e.clock.Now()
	e.started.Store(start.UnixNano())

	ctx, span := e.tracer.Start(ctx, "crawler.run", trace.WithAttributes(attribute.String("crawler.seed", e.seed.String())))
	defer span.End()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.cfg.MaxTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxTime)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e.logger.Info("crawl starting",
		zap.String("seed", e.seed.String()),
		zap.Int("max_concurrency", e.cfg.MaxConcurrency),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Duration("max_time", e.cfg.MaxTime),
		zap.Bool("ignore_robots", e.cfg.IgnoreRobots))
	e.observer.CrawlStarted(e.seed)

	e.frontier.Push(e.seed)
	slots := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	var wg sync.WaitGroup

	var reason StopReason
	for reason == "" {
		if runCtx.Err() != nil {
			reason = e.cancelReason(ctx)
			break
		}
		if e.cfg.MaxPages > 0 && int(e.dispatched.Load()) >= e.cfg.MaxPages {
			reason = StopMaxPages
			break
		}
		if err := slots.Acquire(runCtx, 1); err != nil {
			reason = e.cancelReason(ctx)
			break
		}
		target, ok := e.frontier.Pop()
		if !ok {
			slots.Release(1)
			if e.inFlight.Load() == 0 {
				if e.frontier.Len() == 0 {
					reason = StopExhausted
				}
				continue
			}
			select {
			case <-e.signal:
			case <-runCtx.Done():
			}
			continue
		}

		e.dispatched.Add(1)
		e.inFlight.Add(1)
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			defer slots.Release(1)
			res := e.fetcher.Fetch(runCtx, t)
			e.complete(ctx, res)
		}(target)
	}

	wg.Wait()
	if reason == StopMaxPages && e.frontier.Len() == 0 && e.dropped.Load() == 0 {
		reason = StopExhausted
	}
	if reason == StopExhausted && e.dropped.Load() > 0 {
		// a dropped target was never reported, so the crawl is not complete
		reason = e.cancelReason(ctx)
	}

	stats := e.frontier.Stats()
	sum := Summary{
		Seed:       e.seed.String(),
		Reason:     reason,
		Dispatched: int(e.dispatched.Load()),
		Pages:      int(e.pages.Load()),
		Succeeded:  int(e.succeeded.Load()),
		Skipped:    int(e.skipped.Load()),
		Failed:     int(e.failed.Load()),
		Dropped:    int(e.dropped.Load()),
		Discovered: stats.Seen,
		Pending:    stats.Queued,
		Started:    start,
		Elapsed:    e.clock.Now().Sub(start),
	}
	span.SetAttributes(
		attribute.String("crawler.stop_reason", string(sum.Reason)),
		attribute.Int("crawler.pages", sum.Pages),
	)
	e.observer.CrawlFinished(sum)
	e.logger.Info("crawl finished",
		zap.String("reason", string(sum.Reason)),
		zap.String("outcome", string(sum.Outcome())),
		zap.Int("pages", sum.Pages),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int("dropped", sum.Dropped),
		zap.Duration("elapsed", sum.Elapsed))
	return sum, nil
}

// complete records a finished fetch. Followed links reach the frontier before
// the in-flight count drops so the dispatcher never sees an empty frontier
// with work still pending.
func (e *Engine) complete(parent context.Context, res PageResult) {
	defer func() {
		e.inFlight.Add(-1)
		select {
		case e.signal <- struct{}{}:
		default:
		}
	}()

	if res.Status == StatusCancelled || res.Status == "" {
		e.dropped.Add(1)
		e.logger.Debug("dropping cancelled fetch", zap.String("url", res.Target.String()))
		return
	}

	for _, t := range res.Followed() {
		e.frontier.Push(t)
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.pages.Add(1)
	switch res.Status {
	case StatusSuccess:
		e.succeeded.Add(1)
	case StatusSkipped:
		e.skipped.Add(1)
	case StatusFailed:
		e.failed.Add(1)
	}
	e.observer.PageVisited(res)
	if err := e.sink.Emit(context.WithoutCancel(parent), res); err != nil {
		e.logger.Warn("sink emit failed", zap.String("url", res.Target.String()), zap.Error(err))
	}
}

func (e *Engine) cancelReason(parent context.Context) StopReason {
	if parent.Err() != nil {
		return StopCancelled
	}
	return StopMaxTime
}

// Snapshot reports live counters; it is safe to call while Run is active.
func (e *Engine) Snapshot() Snapshot {
	stats := e.frontier.Stats()
	var started time.Time
	if ns := e.started.Load(); ns != 0 {
		started = time.Unix(0, ns).UTC()
	}
	return Snapshot{
		Seed:       e.seed.String(),
		Running:    e.running.Load(),
		Started:    started,
		Dispatched: e.dispatched.Load(),
		InFlight:   e.inFlight.Load(),
		Pages:      e.pages.Load(),
		Succeeded:  e.succeeded.Load(),
		Skipped:    e.skipped.Load(),
		Failed:     e.failed.Load(),
		Queued:     stats.Queued,
		Discovered: stats.Seen,
	}
}
