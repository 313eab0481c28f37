// Package sinks implements progress consumers: Prometheus metrics, structured
// logging, and a repository-backed sink that records crawl runs and per-site
// fetch totals. Each satisfies progress.Sink.
package sinks
