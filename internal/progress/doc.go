// Package progress provides the crawl lifecycle events, the non-blocking hub
// that batches them on a background goroutine, and the Reporter that turns
// crawler callbacks into events. Sinks such as Prometheus metrics, structured
// logs, and Postgres run summaries consume the batches.
package progress
