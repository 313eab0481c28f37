// Package crawler implements the same-host crawl engine: URL normalization and
// scope, the frontier, per-origin throttling, the robots.txt gate, the retry
// policy and the fetch pipeline the engine fans out to.
package crawler
