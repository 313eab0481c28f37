// Package app assembles the long-lived services of one crawl run: transport,
// engine, report sinks, progress hub, and the optional database, status
// server and tracer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	iduuid "github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/output"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/progress/sinks"
	"github.com/JakeFAU/sitecrawler/internal/robots"
	"github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	"github.com/JakeFAU/sitecrawler/internal/store"
	"github.com/JakeFAU/sitecrawler/internal/telemetry"
	collytransport "github.com/JakeFAU/sitecrawler/internal/transport/colly"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	// Stdout receives the report when no output path is configured.
	Stdout io.Writer
	// Transport replaces the colly transport.
	Transport crawler.Transport
	// CrawlID replaces the generated UUIDv7.
	CrawlID uuid.UUID
	// Registry receives every collector; nil creates a private registry.
	Registry *prometheus.Registry
	// SpanProcessors are attached to the tracer provider when telemetry is on.
	SpanProcessors []sdktrace.SpanProcessor
}

// App holds the services of one crawl.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	crawlID  uuid.UUID
	registry *prometheus.Registry

	engine *crawler.Engine
	hub    *progress.Hub
	report *output.Writer
	pool   *pgxpool.Pool
	repo   store.CrawlRepository
	tracer *sdktrace.TracerProvider
	server *api.Server

	closeOnce sync.Once
	closeErr  error
}

// New builds every service described by cfg. It fails fast on an invalid seed
// or when an enabled backing service cannot be reached; services already built
// are released before returning the error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, crawlID: opts.CrawlID, registry: opts.Registry}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.crawlID == uuid.Nil {
		if a.crawlID, err = iduuid.NewGenerator().NewCrawlID(); err != nil {
			return nil, err
		}
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	if cfg.Telemetry.Enabled {
		a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
			Processors:  opts.SpanProcessors,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	a.report, err = output.Open(output.Options{
		Path:      cfg.Output.Path,
		Format:    format,
		HideLinks: cfg.Output.HideLinks,
		Stdout:    opts.Stdout,
	})
	if err != nil {
		return nil, err
	}
	resultSinks := output.Multi{a.report}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}

	if cfg.Postgres.DSN != "" {
		pages, pgErr := a.openPostgres(ctx)
		if pgErr != nil {
			return nil, pgErr
		}
		resultSinks = append(resultSinks, pages)
		progressSinks = append(progressSinks, sinks.NewStoreSink(a.repo, logger.Named("store")))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         logger.Named("progress"),
	}, progressSinks...)

	transport := opts.Transport
	if transport == nil {
		transport = collytransport.New(collytransport.Config{
			UserAgent:    cfg.Crawler.UserAgent,
			Timeout:      cfg.Transport.RequestTimeout,
			MaxBodyBytes: cfg.Transport.MaxBodyBytes,
			MaxRedirects: cfg.Transport.MaxRedirects,
		})
	}

	a.engine, err = crawler.New(cfg.Crawler, crawler.Components{
		Transport:   transport,
		Extractor:   extract.New(),
		RulesParser: parseRobots,
		Hasher:      sha256.New(),
		Sink:        resultSinks,
		Observer:    progress.NewReporter(a.hub, a.crawlID),
	}, logger.With(zap.Stringer("crawl_id", a.crawlID)))
	if err != nil {
		return nil, err
	}

	if cfg.Server.Addr != "" {
		httpMetrics, mErr := telemetry.NewHTTPMetrics(a.registry)
		if mErr != nil {
			return nil, mErr
		}
		a.server = api.NewServer(api.Options{
			Status:      a.engine,
			Repo:        a.repo,
			Gatherer:    a.registry,
			HTTPMetrics: httpMetrics,
			Logger:      logger.Named("api"),
		})
	}
	return a, nil
}

// parseRobots adapts robots.Parse to crawler.RulesParser.
func parseRobots(status int, body []byte) (crawler.Rules, error) {
	rules, err := robots.Parse(status, body)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// openPostgres connects the pool, prepares the schema and sets a.repo. It
// returns the page sink for this crawl.
func (a *App) openPostgres(ctx context.Context) (crawler.Sink, error) {
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:        a.cfg.Postgres.DSN,
		PagesTable: a.cfg.Postgres.PagesTable,
		MaxConns:   a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	if a.cfg.Postgres.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, pool, a.cfg.Postgres.PagesTable); err != nil {
			return nil, err
		}
	}
	repo, err := postgres.NewCrawlStoreWithPool(pool)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	return postgres.NewPageStoreWithPool(pool, a.cfg.Postgres.PagesTable, a.crawlID)
}

// CrawlID identifies this run in progress events and stored rows.
func (a *App) CrawlID() uuid.UUID { return a.crawlID }

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Engine exposes the crawl engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Run crawls until completion and returns the summary. The status server, when
// configured, runs for the duration of the crawl.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	a.logger.Info("crawl run starting",
		zap.Stringer("crawl_id", a.crawlID),
		zap.String("seed", a.engine.Seed().String()))

	var serverWG sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if a.server != nil {
		serverWG.Add(1)
		go func() {
			defer serverWG.Done()
			if err := a.server.ListenAndServe(serverCtx, a.cfg.Server.Addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	sum, err := a.engine.Run(ctx)
	stopServer()
	serverWG.Wait()
	if err != nil {
		return sum, fmt.Errorf("run crawl: %w", err)
	}
	return sum, nil
}

// Close flushes progress sinks and releases every service. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.report != nil {
			if err := a.report.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
		if a.tracer != nil {
			if err := a.tracer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
