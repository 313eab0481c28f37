package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Action is what the fetcher should do after an attempt.
type Action int

// Retry actions.
const (
	ActionProceed Action = iota
	ActionRetry
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single attempt as seen by the retry policy.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Err        error
	At         time.Time
}

// RetryState tracks attempts made so far for one target.
type RetryState struct {
	// Attempt is the number of attempts already made, starting at 1.
	Attempt   int
	LastDelay time.Duration
}

// Decision is the policy's verdict. Delay is set for ActionRetry and Reason
// for ActionGiveUp.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason error
}

// RetryPolicy classifies attempt outcomes. Implementations are pure apart from
// jitter.
type RetryPolicy interface {
	Classify(out Outcome, st RetryState) Decision
}

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// Default retry settings.
const (
	DefaultRetryBaseDelay  = 250 * time.Millisecond
	DefaultRetryMaxDelay   = 60 * time.Second
	DefaultRetryMaxRetries = 5
)

// ExponentialRetryPolicy retries network errors and 429/502/503/504 with
// jittered exponential backoff, honouring Retry-After on 429 and 503.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func(limit time.Duration) time.Duration
}

// NewExponentialRetryPolicy builds a policy, filling zero fields with defaults.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		jitter:     randomJitter,
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.baseDelay <= 0 {
		p.baseDelay = DefaultRetryBaseDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = DefaultRetryMaxDelay
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// Classify implements RetryPolicy.
func (p *ExponentialRetryPolicy) Classify(out Outcome, st RetryState) Decision {
	var cause error
	switch {
	case out.Err != nil:
		// a TransportError means the crawl context was still live, so a
		// wrapped deadline is the request timeout and worth retrying
		var transportErr *TransportError
		if !errors.As(out.Err, &transportErr) && (errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) || errors.Is(out.Err, ErrCancelled)) {
			return Decision{Action: ActionGiveUp, Reason: fmt.Errorf("%w: %v", ErrCancelled, out.Err)}
		}
		cause = out.Err
	case retryableStatus(out.StatusCode):
		cause = &HTTPStatusError{Status: out.StatusCode}
	case out.StatusCode >= 400:
		return Decision{Action: ActionGiveUp, Reason: &HTTPStatusError{Status: out.StatusCode}}
	default:
		return Decision{Action: ActionProceed}
	}

	if st.Attempt > p.maxRetries {
		return Decision{Action: ActionGiveUp, Reason: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, st.Attempt, cause)}
	}

	delay := p.Backoff(st.Attempt - 1)
	if out.StatusCode == http.StatusTooManyRequests || out.StatusCode == http.StatusServiceUnavailable {
		if ra, ok := parseRetryAfter(out.Header.Get("Retry-After"), out.At); ok {
			delay = min(ra, p.maxDelay)
		}
	}
	if delay < st.LastDelay {
		delay = st.LastDelay
	}
	return Decision{Action: ActionRetry, Delay: delay}
}

// Backoff returns the delay before retry number n (zero based): base*2^n plus
// up to 50% jitter, never above the max delay.
func (p *ExponentialRetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	raw := p.baseDelay
	for i := 0; i < n; i++ {
		if raw >= p.maxDelay {
			break
		}
		raw *= 2
	}
	if raw >= p.maxDelay {
		return p.maxDelay
	}
	return min(raw+p.jitter(raw/2), p.maxDelay)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date relative to now.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if now.IsZero() {
		now = time.Now()
	}
	d := when.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
