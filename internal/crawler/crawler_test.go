package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
	"github.com/maltedev/amazon-review-scraper/internal/extractor"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-review-scraper/internal/session"
)

// --- fixtures ---------------------------------------------------------

func reviewBlock(reviewer, date, body string, rating float64) string {
	return fmt.Sprintf(`<div data-hook="review">
		<span class="a-profile-name">%s</span>
		<i data-hook="review-star-rating"><span>%.1f out of 5 stars</span></i>
		<span data-hook="review-date">Reviewed in the United States on %s</span>
		<span data-hook="review-body">%s</span>
	</div>`, reviewer, rating, date, body)
}

// reviewPage renders count review blocks drawn round-robin from the given
// distinct reviews, so count > len(distinct) produces in-page repeats.
func reviewPage(asin string, distinct, count int, rating float64, hasNext bool) string {
	page := `<html><body><div id="cm_cr-review_list">`
	for i := 0; i < count; i++ {
		n := i % distinct
		page += reviewBlock(
			fmt.Sprintf("reviewer-%s-%d", asin, n),
			fmt.Sprintf("July %d, 2024", n+1),
			fmt.Sprintf("Review %d for %s.", n, asin),
			rating,
		)
	}
	page += `</div>`
	if hasNext {
		page += `<ul class="a-pagination"><li class="a-last"><a href="#">Next page</a></li></ul>`
	} else {
		page += `<ul class="a-pagination"><li class="a-disabled a-last">Next page</li></ul>`
	}
	page += `</body></html>`
	return page
}

func searchPage(asins ...string) string {
	page := "<html><body>"
	for _, asin := range asins {
		page += fmt.Sprintf(`<div data-component-type="s-search-result" data-asin="%s">
			<h2><a href="/dp/%s"><span>Product %s</span></a></h2>
		</div>`, asin, asin, asin)
	}
	page += "</body></html>"
	return page
}

func normalSig(url, content string) challenge.PageSignal {
	return challenge.PageSignal{URL: url, Content: content}
}

func softBlockSig(url string) challenge.PageSignal {
	return challenge.PageSignal{URL: url, Title: "Sorry! Something went wrong!", Content: "Sorry! Something went wrong"}
}

// --- fakes ------------------------------------------------------------

type fetchResult struct {
	sig challenge.PageSignal
	err error
}

// fakeFetcher serves scripted results per URL. Each URL consumes its
// queue head; the last entry repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]fetchResult
	calls   map[string]int
	onFetch func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]fetchResult),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) serve(url string, results ...fetchResult) {
	f.pages[url] = results
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (challenge.PageSignal, error) {
	f.mu.Lock()
	f.calls[url]++
	queue, ok := f.pages[url]
	if !ok {
		f.mu.Unlock()
		return challenge.PageSignal{}, fmt.Errorf("unexpected fetch: %s", url)
	}
	result := queue[0]
	if len(queue) > 1 {
		f.pages[url] = queue[1:]
	}
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return result.sig, result.err
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type collectSink struct {
	mu      sync.Mutex
	reviews []models.Review
}

func (s *collectSink) Emit(_ context.Context, reviews []models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, reviews...)
	return nil
}

func (s *collectSink) all() []models.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Review(nil), s.reviews...)
}

type scriptPrompter struct {
	answers []bool
	calls   int
}

func (p *scriptPrompter) Confirm(context.Context, string) (bool, error) {
	p.calls++
	if len(p.answers) == 0 {
		return false, nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func newTestCrawler(t *testing.T, fetcher PageFetcher, sink ReviewSink, opts ...func(*Config)) *Crawler {
	t.Helper()
	cfg := Config{
		Fetcher:      fetcher,
		Extractor:    extractor.New(nil),
		Sink:         sink,
		Limiter:      ratelimit.NewSimpleRateLimiter(0, 0),
		Retry:        ratelimit.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		ProductDelay: time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// --- tests ------------------------------------------------------------

func TestCrawlEndToEnd(t *testing.T) {
	target := models.CrawlTarget{
		Keyword:            "wireless headphones",
		Filter:             models.FilterFiveStar,
		MaxProducts:        2,
		MaxPagesPerProduct: 2,
	}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("wireless headphones"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=wireless+headphones", searchPage("B001HEADSET", "B002EARBUDS"))})

	// Each product serves two pages of 10 review blocks covering only 5
	// distinct reviews, repeated within and across the pages.
	for _, asin := range []string{"B001HEADSET", "B002EARBUDS"} {
		page1 := models.ReviewListingURL(asin, models.FilterFiveStar, 1)
		page2 := models.ReviewListingURL(asin, models.FilterFiveStar, 2)
		fetcher.serve(page1, fetchResult{sig: normalSig(page1, reviewPage(asin, 5, 10, 5.0, true))})
		fetcher.serve(page2, fetchResult{sig: normalSig(page2, reviewPage(asin, 5, 10, 5.0, false))})
	}

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	summary, err := c.Crawl(context.Background(), target)
	require.NoError(t, err)

	reviews := sink.all()
	require.Len(t, reviews, 10, "2 products x 5 unique reviews")
	for _, r := range reviews {
		assert.Equal(t, 5.0, r.Rating)
	}

	perProduct := map[string]int{}
	for _, r := range reviews {
		perProduct[r.ProductID]++
	}
	assert.Equal(t, map[string]int{"B001HEADSET": 5, "B002EARBUDS": 5}, perProduct)

	assert.Equal(t, 2, summary.ProductsFound)
	assert.Equal(t, 2, summary.ProductsCompleted)
	assert.Equal(t, 0, summary.ProductsAbandoned)
	assert.Equal(t, 10, summary.TotalReviews)
	assert.Equal(t, 5, summary.PagesFetched) // search + 2x2 review pages
	assert.Equal(t, "wireless headphones", summary.Keyword)
	assert.NotEmpty(t, summary.RunID)
}

func TestCrawlRetryCeilingAbandonsProduct(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 2, MaxPagesPerProduct: 2}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001BLOCKED", "B002FINE"))})

	blockedURL := models.ReviewListingURL("B001BLOCKED", models.FilterAll, 1)
	fetcher.serve(blockedURL, fetchResult{sig: softBlockSig(blockedURL)})

	fineURL := models.ReviewListingURL("B002FINE", models.FilterAll, 1)
	fetcher.serve(fineURL, fetchResult{sig: normalSig(fineURL, reviewPage("B002FINE", 3, 3, 4.0, false))})

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	summary, err := c.Crawl(context.Background(), target)
	require.NoError(t, err, "a single product's failure is never fatal")

	// Exactly MaxAttempts fetches of the blocked page, then the crawl
	// moved on to the next product.
	assert.Equal(t, 3, fetcher.fetchCount(blockedURL))
	assert.Equal(t, 1, fetcher.fetchCount(fineURL))
	assert.Equal(t, 1, summary.ProductsAbandoned)
	assert.Equal(t, 1, summary.ProductsCompleted)
	assert.Len(t, sink.all(), 3)
}

func TestCrawlTransientFailureRecovered(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 1, MaxPagesPerProduct: 1}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001X"))})

	url := models.ReviewListingURL("B001X", models.FilterAll, 1)
	fetcher.serve(url,
		fetchResult{err: &TransientNavigationError{URL: url, Err: errors.New("timeout")}},
		fetchResult{sig: normalSig(url, reviewPage("B001X", 2, 2, 3.0, false))},
	)

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	summary, err := c.Crawl(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount(url))
	assert.Equal(t, 1, summary.ProductsCompleted)
	assert.Len(t, sink.all(), 2)
}

func TestCrawlStopsWithoutNextPageAffordance(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 1, MaxPagesPerProduct: 5}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001X"))})

	page1 := models.ReviewListingURL("B001X", models.FilterAll, 1)
	fetcher.serve(page1, fetchResult{sig: normalSig(page1, reviewPage("B001X", 4, 4, 2.0, false))})

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	summary, err := c.Crawl(context.Background(), target)
	require.NoError(t, err)

	// Pages 2..5 were never requested.
	assert.Equal(t, 1, fetcher.fetchCount(page1))
	assert.Equal(t, 0, fetcher.fetchCount(models.ReviewListingURL("B001X", models.FilterAll, 2)))
	assert.Equal(t, 2, summary.PagesFetched)
}

func TestCrawlInterruptDeclinedAbortsWithPartialResults(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 2, MaxPagesPerProduct: 1}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001OK", "B002AUTH"))})

	okURL := models.ReviewListingURL("B001OK", models.FilterAll, 1)
	fetcher.serve(okURL, fetchResult{sig: normalSig(okURL, reviewPage("B001OK", 3, 3, 4.0, false))})

	authURL := models.ReviewListingURL("B002AUTH", models.FilterAll, 1)
	fetcher.serve(authURL, fetchResult{sig: challenge.PageSignal{URL: "https://www.amazon.com/ap/signin?from=reviews"}})

	store := session.New([]session.Cookie{{Name: "at-main", Value: "tok"}})

	sink := &collectSink{}
	prompter := &scriptPrompter{answers: []bool{false}}
	c := newTestCrawler(t, fetcher, sink, func(cfg *Config) {
		cfg.Prompter = prompter
		cfg.Session = store
	})

	summary, err := c.Crawl(context.Background(), target)

	var interrupt *ChallengeInterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, challenge.LoginRedirect, interrupt.Kind)

	// Product 1's reviews survived the abort.
	assert.Len(t, sink.all(), 3)
	assert.Equal(t, 1, summary.ProductsCompleted)
	assert.Equal(t, 1, summary.Challenges)

	// The login redirect invalidated the session flag.
	assert.False(t, store.Authenticated())
}

func TestCrawlInterruptResumedReclassifies(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 1, MaxPagesPerProduct: 1}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001X"))})

	url := models.ReviewListingURL("B001X", models.FilterAll, 1)
	fetcher.serve(url,
		fetchResult{sig: challenge.PageSignal{URL: url, Content: `<input id="captchacharacters">`}},
		fetchResult{sig: normalSig(url, reviewPage("B001X", 2, 2, 3.0, false))},
	)

	sink := &collectSink{}
	prompter := &scriptPrompter{answers: []bool{true}}
	c := newTestCrawler(t, fetcher, sink, func(cfg *Config) { cfg.Prompter = prompter })

	summary, err := c.Crawl(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, prompter.calls)
	assert.Equal(t, 1, summary.Challenges)
	assert.Len(t, sink.all(), 2)
}

func TestCrawlWithoutPrompterAbortsOnInterrupt(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 1, MaxPagesPerProduct: 1}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: challenge.PageSignal{URL: "https://www.amazon.com/errors/validatecaptcha"}})

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	_, err := c.Crawl(context.Background(), target)
	var interrupt *ChallengeInterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, challenge.Captcha, interrupt.Kind)
}

func TestCrawlCancellationKeepsExtractedReviews(t *testing.T) {
	target := models.CrawlTarget{Keyword: "bags", Filter: models.FilterAll, MaxProducts: 2, MaxPagesPerProduct: 2}

	fetcher := newFakeFetcher()
	fetcher.serve(models.SearchURL("bags"),
		fetchResult{sig: normalSig("https://www.amazon.com/s?k=bags", searchPage("B001FULL", "B002CUT"))})

	for _, asin := range []string{"B001FULL", "B002CUT"} {
		p1 := models.ReviewListingURL(asin, models.FilterAll, 1)
		p2 := models.ReviewListingURL(asin, models.FilterAll, 2)
		fetcher.serve(p1, fetchResult{sig: normalSig(p1, reviewPage(asin, 3, 3, 4.0, true))})
		fetcher.serve(p2, fetchResult{sig: normalSig(p2, reviewPage(asin, 3, 3, 4.0, false))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cutoff := models.ReviewListingURL("B002CUT", models.FilterAll, 1)
	fetcher.onFetch = func(url string) {
		if url == cutoff {
			cancel()
		}
	}

	sink := &collectSink{}
	c := newTestCrawler(t, fetcher, sink)

	summary, err := c.Crawl(ctx, target)
	require.ErrorIs(t, err, context.Canceled)

	// Product 1 fully, product 2 only its first page; page 1 of product 2
	// was already fetched when the cancellation landed, so its reviews
	// are flushed, not dropped.
	reviews := sink.all()
	perProduct := map[string]int{}
	for _, r := range reviews {
		perProduct[r.ProductID]++
	}
	assert.Equal(t, map[string]int{"B001FULL": 6, "B002CUT": 3}, perProduct)
	assert.Equal(t, 0, fetcher.fetchCount(models.ReviewListingURL("B002CUT", models.FilterAll, 2)))
	assert.Equal(t, 9, summary.TotalReviews)
}

func TestCrawlRejectsInvalidTarget(t *testing.T) {
	c := newTestCrawler(t, newFakeFetcher(), &collectSink{})

	_, err := c.Crawl(context.Background(), models.CrawlTarget{Keyword: "", MaxProducts: 1, MaxPagesPerProduct: 1})
	assert.Error(t, err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Fetcher: newFakeFetcher()})
	assert.Error(t, err)

	_, err = New(Config{Fetcher: newFakeFetcher(), Extractor: extractor.New(nil)})
	assert.Error(t, err)
}
