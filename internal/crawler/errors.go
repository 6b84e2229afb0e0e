package crawler

import (
	"errors"
	"fmt"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
)

// ErrProductExhausted marks a product whose page retries ran out. It is
// absorbed by the crawl loop and never surfaces as a run failure.
var ErrProductExhausted = errors.New("product retries exhausted")

// TransientNavigationError is a network or timeout failure during a page
// fetch. It is recoverable through the retry policy.
type TransientNavigationError struct {
	URL string
	Err error
}

func (e *TransientNavigationError) Error() string {
	return fmt.Sprintf("transient navigation failure for %s: %v", e.URL, e.Err)
}

func (e *TransientNavigationError) Unwrap() error {
	return e.Err
}

// ChallengeInterruptError means a challenge needed operator intervention
// and the operator declined, aborting the crawl with partial results.
type ChallengeInterruptError struct {
	Kind      challenge.Kind
	Signature string
	URL       string
}

func (e *ChallengeInterruptError) Error() string {
	return fmt.Sprintf("crawl interrupted by %s challenge at %s (%s)", e.Kind, e.URL, e.Signature)
}
