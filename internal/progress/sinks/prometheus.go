package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics.
type PrometheusSink struct {
	crawlsStarted  prometheus.Counter
	crawlsFinished *prometheus.CounterVec
	crawlsRunning  prometheus.Gauge
	crawlRuntime   *prometheus.HistogramVec

	fetchAttempts *prometheus.CounterVec
	fetchRetries  *prometheus.CounterVec
	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	pagesVisited  *prometheus.CounterVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitecrawler_crawls_started_total",
			Help: "Crawls that have started.",
		}),
		crawlsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_crawls_finished_total",
			Help: "Crawls finished, partitioned by stop reason.",
		}, []string{"reason"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecrawler_crawls_running",
			Help: "Crawls currently running.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_crawl_runtime_seconds",
			Help:    "Wall time per finished crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"reason"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_attempts_total",
			Help: "HTTP attempts issued per site, retries included.",
		}, []string{"site"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_retries_total",
			Help: "Retries scheduled per site.",
		}, []string{"site"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_responses_total",
			Help: "HTTP responses received, partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_bytes_total",
			Help: "Response bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_fetch_duration_seconds",
			Help:    "Single attempt latency, partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		pagesVisited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_pages_total",
			Help: "Pages reported, partitioned by final status.",
		}, []string{"status"}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsFinished,
		s.crawlsRunning,
		s.crawlRuntime,
		s.fetchAttempts,
		s.fetchRetries,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.pagesVisited,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		s.crawlsFinished.WithLabelValues(evt.Result).Inc()
		if evt.Dur > 0 {
			s.crawlRuntime.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.CrawlID) {
			s.crawlsRunning.Dec()
		}
	case progress.StageFetchAttempt:
		s.fetchAttempts.WithLabelValues(site).Inc()
	case progress.StageFetchRetry:
		s.fetchRetries.WithLabelValues(site).Inc()
	case progress.StageFetchDone:
		statusClass := string(evt.StatusClass)
		if statusClass == "" {
			statusClass = string(progress.StatusOther)
		}
		s.fetchRequests.WithLabelValues(site, statusClass).Inc()
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageVisited:
		s.pagesVisited.WithLabelValues(evt.Result).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[[16]byte]struct{})}
}

func (t *crawlTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
