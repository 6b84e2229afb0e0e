// Package crawler drives the multi-page review crawl: product discovery,
// pagination, rate limiting, retry, and challenge escalation. Navigation
// happens behind the PageFetcher interface so the whole engine runs
// against fixture pages in tests.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
	"github.com/maltedev/amazon-review-scraper/internal/extractor"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-review-scraper/internal/session"
)

// PageFetcher loads a URL and returns the resulting page snapshot.
// Implementations wrap a browser page; failures that may succeed on a
// second attempt are reported as *TransientNavigationError.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (challenge.PageSignal, error)
}

// ReviewSink receives extracted reviews incrementally; the crawl never
// buffers the full result set.
type ReviewSink interface {
	Emit(ctx context.Context, reviews []models.Review) error
}

// Prompter is the operator boundary used when a challenge interrupts the
// crawl.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Diagnostics receives a structured event for every non-normal
// classification.
type Diagnostics interface {
	RecordChallenge(ctx context.Context, pageURL string, res challenge.Result)
}

// interruptRounds bounds how often the operator may resume the same page
// while it stays challenged.
const interruptRounds = 3

// Config wires the crawler's collaborators. Fetcher, Extractor, and Sink
// are required; the rest default to the standard crawl policy.
type Config struct {
	Fetcher   PageFetcher
	Extractor *extractor.Extractor
	Sink      ReviewSink
	Session   *session.Store
	Prompter  Prompter
	Limiter   ratelimit.RateLimiter
	Retry     ratelimit.RetryPolicy
	// ProductDelay is slept after finishing each product's pages.
	ProductDelay time.Duration
	Diagnostics  Diagnostics
	Metrics      *Metrics
	Logger       *slog.Logger
}

type Crawler struct {
	fetcher      PageFetcher
	extractor    *extractor.Extractor
	sink         ReviewSink
	session      *session.Store
	prompter     Prompter
	limiter      ratelimit.RateLimiter
	retry        ratelimit.RetryPolicy
	productDelay time.Duration
	diagnostics  Diagnostics
	metrics      *Metrics
	logger       *slog.Logger
}

func New(cfg Config) (*Crawler, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("review sink is required")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewSimpleRateLimiter(2*time.Second, 3*time.Second)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = ratelimit.DefaultRetryPolicy()
	}
	if cfg.ProductDelay == 0 {
		cfg.ProductDelay = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Crawler{
		fetcher:      cfg.Fetcher,
		extractor:    cfg.Extractor,
		sink:         cfg.Sink,
		session:      cfg.Session,
		prompter:     cfg.Prompter,
		limiter:      cfg.Limiter,
		retry:        cfg.Retry,
		productDelay: cfg.ProductDelay,
		diagnostics:  cfg.Diagnostics,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "crawler"),
	}, nil
}

// Crawl runs one target to completion. The returned summary always
// reflects whatever was extracted, including when the error is non-nil:
// partial results are preserved on abort and cancellation.
func (c *Crawler) Crawl(ctx context.Context, target models.CrawlTarget) (*models.RunSummary, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl target: %w", err)
	}

	summary := &models.RunSummary{
		RunID:     uuid.New().String(),
		Keyword:   target.Keyword,
		StartedAt: time.Now(),
	}
	defer func() { summary.FinishedAt = time.Now() }()

	c.logger.Info("starting crawl",
		"run_id", summary.RunID,
		"keyword", target.Keyword,
		"filter", target.Filter,
		"max_products", target.MaxProducts,
		"max_pages", target.MaxPagesPerProduct)

	products, err := c.discoverProducts(ctx, target, summary)
	if err != nil {
		return summary, err
	}
	if len(products) == 0 {
		c.logger.Warn("no products found", "keyword", target.Keyword)
		return summary, nil
	}

	for _, product := range products {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		err := c.crawlProduct(ctx, target, product, summary)
		switch {
		case err == nil:
			summary.ProductsCompleted++
		case errors.Is(err, ErrProductExhausted):
			// One product failing is never fatal to the crawl.
			summary.ProductsAbandoned++
			c.metrics.IncAbandoned()
			c.logger.Warn("abandoning product", "asin", product.ASIN, "error", err)
		default:
			return summary, err
		}

		if err := c.sleep(ctx, c.productDelay); err != nil {
			return summary, err
		}
	}

	c.logger.Info("crawl finished",
		"run_id", summary.RunID,
		"reviews", summary.TotalReviews,
		"completed", summary.ProductsCompleted,
		"abandoned", summary.ProductsAbandoned)
	return summary, nil
}

// discoverProducts loads the search page and extracts up to MaxProducts
// entries in the site's relevance order.
func (c *Crawler) discoverProducts(ctx context.Context, target models.CrawlTarget, summary *models.RunSummary) ([]models.Product, error) {
	sig, err := c.fetchClassified(ctx, models.SearchURL(target.Keyword), "search", summary)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	summary.PagesFetched++

	products, err := c.extractor.SearchResults(sig.Content, target.MaxProducts)
	if err != nil {
		return nil, fmt.Errorf("failed to extract search results: %w", err)
	}
	summary.ProductsFound = len(products)

	c.logger.Info("products discovered", "count", len(products))
	return products, nil
}

// crawlProduct paginates one product's review listing. Partial results
// are emitted as pages complete; errors other than exhaustion propagate.
func (c *Crawler) crawlProduct(ctx context.Context, target models.CrawlTarget, product models.Product, summary *models.RunSummary) error {
	logger := c.logger.With("asin", product.ASIN)

	for page := 1; page <= target.MaxPagesPerProduct; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		url := models.ReviewListingURL(product.ASIN, target.Filter, page)
		sig, err := c.fetchClassified(ctx, url, "reviews", summary)
		if err != nil {
			return err
		}
		summary.PagesFetched++

		reviews, err := c.extractor.Reviews(sig.Content, product)
		if err != nil {
			logger.Error("failed to parse review page", "page", page, "error", err)
			continue
		}

		if len(reviews) > 0 {
			if err := c.sink.Emit(ctx, reviews); err != nil {
				return fmt.Errorf("failed to emit reviews: %w", err)
			}
			summary.TotalReviews += len(reviews)
			c.metrics.AddReviews(len(reviews))
		}
		logger.Info("page extracted", "page", page, "reviews", len(reviews))

		if !extractor.HasNextReviewPage(sig.Content) {
			logger.Info("no further pages", "last_page", page)
			break
		}
	}

	return nil
}

// fetchClassified loads a URL and keeps retrying while the retry policy
// allows. Interrupting challenges are surfaced to the operator; declining
// aborts, resuming re-classifies the page.
func (c *Crawler) fetchClassified(ctx context.Context, url, phase string, summary *models.RunSummary) (challenge.PageSignal, error) {
	rc := &ratelimit.RetryContext{}
	interrupts := 0

	for {
		if err := ctx.Err(); err != nil {
			return challenge.PageSignal{}, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return challenge.PageSignal{}, err
		}

		sig, err := c.fetcher.Fetch(ctx, url)
		c.metrics.IncPage(phase)
		if err != nil {
			var transient *TransientNavigationError
			if !errors.As(err, &transient) {
				return challenge.PageSignal{}, err
			}

			rc.Record(0)
			if !c.retry.ShouldRetryError(rc) {
				return challenge.PageSignal{}, fmt.Errorf("%w: %v", ErrProductExhausted, err)
			}
			if err := c.backoff(ctx, rc); err != nil {
				return challenge.PageSignal{}, err
			}
			continue
		}

		res := challenge.Classify(sig)
		switch {
		case res.Kind == challenge.Normal:
			return sig, nil

		case res.Kind == challenge.SoftBlock:
			c.recordChallenge(ctx, url, res, summary)
			rc.Record(0)
			if !c.retry.ShouldRetry(rc, res.Kind) {
				return challenge.PageSignal{}, fmt.Errorf("%w: soft block persisted (%s)", ErrProductExhausted, res.Signature)
			}
			if err := c.backoff(ctx, rc); err != nil {
				return challenge.PageSignal{}, err
			}

		case res.Kind.Interrupting():
			c.recordChallenge(ctx, url, res, summary)
			if res.Kind == challenge.LoginRedirect && c.session != nil {
				// The cookies no longer hold; the flag must not survive.
				c.session.Invalidate()
			}

			interrupts++
			if err := c.awaitOperator(ctx, url, res, interrupts); err != nil {
				return challenge.PageSignal{}, err
			}
		}
	}
}

// awaitOperator pauses the crawl until the operator resolves a challenge
// or declines.
func (c *Crawler) awaitOperator(ctx context.Context, url string, res challenge.Result, round int) error {
	interrupt := &ChallengeInterruptError{Kind: res.Kind, Signature: res.Signature, URL: url}
	if c.prompter == nil || round > interruptRounds {
		return interrupt
	}

	c.logger.Warn("crawl interrupted, waiting for operator",
		"kind", res.Kind, "url", url, "round", round)

	msg := fmt.Sprintf("The crawl hit a %s challenge at %s. Resolve it in the browser, then confirm to resume.", res.Kind, url)
	ok, err := c.prompter.Confirm(ctx, msg)
	if err != nil {
		return fmt.Errorf("operator prompt failed: %w", err)
	}
	if !ok {
		return interrupt
	}
	return nil
}

func (c *Crawler) recordChallenge(ctx context.Context, url string, res challenge.Result, summary *models.RunSummary) {
	summary.Challenges++
	c.metrics.IncChallenge(string(res.Kind))
	c.logger.Warn("challenge detected", "kind", res.Kind, "signature", res.Signature, "url", url)
	if c.diagnostics != nil {
		c.diagnostics.RecordChallenge(ctx, url, res)
	}
}

func (c *Crawler) backoff(ctx context.Context, rc *ratelimit.RetryContext) error {
	delay := c.retry.NextDelay(rc)
	rc.Elapsed += delay
	c.metrics.IncRetry()
	c.logger.Info("backing off before retry", "attempt", rc.Attempts, "delay", delay)
	return c.sleep(ctx, delay)
}

func (c *Crawler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
