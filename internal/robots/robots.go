// Package robots parses robots.txt files with temoto/robotstxt.
package robots

import (
	"fmt"
	"time"

	"github.com/temoto/robotstxt"
)

// MaxBodyBytes bounds how much of a robots.txt file is parsed.
const MaxBodyBytes = 1 << 20

// Rules wraps parsed robots.txt data.
type Rules struct {
	data *robotstxt.RobotsData
}

// Parse builds Rules from a robots.txt response. Callers treat 4xx and 5xx
// responses as "no rules" before calling Parse; the library itself maps 5xx
// to disallow-all.
func Parse(status int, body []byte) (*Rules, error) {
	if len(body) > MaxBodyBytes {
		body = body[:MaxBodyBytes]
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Rules{data: data}, nil
}

// Allowed reports whether userAgent may fetch path. Matching uses the most
// specific group whose name prefixes the user agent, falling back to "*".
func (r *Rules) Allowed(path, userAgent string) bool {
	if r == nil || r.data == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.data.TestAgent(path, userAgent)
}

// CrawlDelay returns the Crawl-delay for the group matching userAgent.
func (r *Rules) CrawlDelay(userAgent string) time.Duration {
	if r == nil || r.data == nil {
		return 0
	}
	group := r.data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}
