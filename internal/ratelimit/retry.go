package ratelimit

import (
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
)

// RetryPolicy decides whether a failed navigation is worth another
// attempt and how long to back off before it. The policy itself is
// stateless; per-fetch progress lives in RetryContext.
type RetryPolicy struct {
	// MaxAttempts is the hard ceiling of navigation attempts per page,
	// the first attempt included.
	MaxAttempts int
	// BaseDelay is the backoff unit; attempt n waits n*BaseDelay.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the crawl defaults: three attempts with a
// linearly growing pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryContext tracks one page fetch. It is discarded on success or
// terminal failure and never shared between pages.
type RetryContext struct {
	Attempts int
	Elapsed  time.Duration
}

// Record notes a finished attempt and the backoff spent before it.
func (rc *RetryContext) Record(backoff time.Duration) {
	rc.Attempts++
	rc.Elapsed += backoff
}

// NextDelay returns the backoff to sleep before the context's next
// attempt.
func (p RetryPolicy) NextDelay(rc *RetryContext) time.Duration {
	d := time.Duration(rc.Attempts) * p.BaseDelay
	if d < p.BaseDelay {
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether another attempt is allowed. Only soft
// blocks and transient navigation failures are retryable; CAPTCHA,
// two-factor, and login redirects need a human and are escalated by the
// caller instead.
func (p RetryPolicy) ShouldRetry(rc *RetryContext, kind challenge.Kind) bool {
	if rc.Attempts >= p.MaxAttempts {
		return false
	}
	return kind == challenge.SoftBlock
}

// ShouldRetryError is the ShouldRetry counterpart for attempts that did
// not produce a classifiable page at all, e.g. a navigation timeout.
func (p RetryPolicy) ShouldRetryError(rc *RetryContext) bool {
	return rc.Attempts < p.MaxAttempts
}
