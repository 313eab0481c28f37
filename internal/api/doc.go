// Package api hosts the optional status server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /status for the live counters of the running crawl.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/crawls, /api/crawls/{crawl_id} and /api/crawls/{crawl_id}/sites
//     for persisted crawl progress via the CrawlRepository interface.
package api
