// Package extractor turns raw review-listing and search-result pages into
// structured records. Parsing is tolerant: a review missing optional
// fields is kept with defaults and only records missing the structural
// minimum are dropped.
package extractor

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

var (
	ratingOutOfPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s+out of\s+5`)
	ratingStarsPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s+stars?`)
	helpfulPattern     = regexp.MustCompile(`([\d,]+)\s+people\s+found`)
	reviewDatePrefix   = regexp.MustCompile(`Reviewed in .*? on\s+`)
)

// Extractor parses pages and deduplicates reviews across the whole run.
// Pages can overlap after retries, so the seen set lives here rather than
// per page.
type Extractor struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		seen:   make(map[string]struct{}),
		logger: logger.With("component", "extractor"),
	}
}

// Reviews extracts the review records from a listing page, in page order,
// dropping any review already seen during this run.
func (e *Extractor) Reviews(html string, product models.Product) ([]models.Review, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse review page: %w", err)
	}

	var reviews []models.Review
	doc.Find(`[data-hook="review"]`).Each(func(i int, sel *goquery.Selection) {
		review, err := e.parseReview(sel, product)
		if err != nil {
			// One malformed review never fails the page.
			e.logger.Warn("dropping malformed review",
				"product", product.ASIN, "index", i, "error", err)
			return
		}

		if e.markSeen(review.Key()) {
			reviews = append(reviews, review)
		}
	})

	return reviews, nil
}

func (e *Extractor) parseReview(sel *goquery.Selection, product models.Product) (models.Review, error) {
	content := strings.TrimSpace(sel.Find(`[data-hook="review-body"]`).Text())
	dateText := strings.TrimSpace(sel.Find(`[data-hook="review-date"]`).Text())
	if content == "" && dateText == "" {
		return models.Review{}, fmt.Errorf("review has neither body nor date")
	}

	reviewer := strings.TrimSpace(sel.Find(".a-profile-name").First().Text())
	if reviewer == "" {
		reviewer = "Anonymous"
	}

	ratingText := sel.Find(`[data-hook="review-star-rating"], [data-hook="cmps-review-star-rating"]`).First().Text()

	return models.Review{
		ProductID:        product.ASIN,
		ProductTitle:     product.Title,
		Reviewer:         reviewer,
		Rating:           ParseRating(ratingText),
		Date:             CleanDate(dateText),
		VerifiedPurchase: sel.Find(`[data-hook="avp-badge"]`).Length() > 0,
		Content:          content,
		HelpfulVotes:     ParseHelpfulVotes(sel.Find(`[data-hook="helpful-vote-statement"]`).Text()),
	}, nil
}

// markSeen records a key and reports whether it was new.
func (e *Extractor) markSeen(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.seen[key]; dup {
		return false
	}
	e.seen[key] = struct{}{}
	return true
}

// SeenCount returns how many unique reviews the run has produced.
func (e *Extractor) SeenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

// SearchResults extracts up to limit products from a search page in the
// site's result order.
func (e *Extractor) SearchResults(html string, limit int) ([]models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var products []models.Product
	doc.Find(`[data-component-type="s-search-result"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		asin, ok := sel.Attr("data-asin")
		if !ok || asin == "" {
			return true
		}

		product := models.NewProduct(asin)
		product.Position = len(products) + 1
		product.Title = strings.TrimSpace(sel.Find("h2 a span").First().Text())
		if product.Title == "" {
			product.Title = strings.TrimSpace(sel.Find("h2 span").First().Text())
		}
		if href, ok := sel.Find(`h2 a, a[href*="/dp/"]`).First().Attr("href"); ok && strings.HasPrefix(href, "/") {
			product.URL = "https://www.amazon.com" + href
		}

		products = append(products, product)
		return len(products) < limit
	})

	return products, nil
}

// HasNextReviewPage reports whether a review listing links to a further
// page. The absence of the affordance terminates pagination early.
func HasNextReviewPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	next := doc.Find("ul.a-pagination li.a-last")
	if next.Length() == 0 {
		return false
	}
	return !next.HasClass("a-disabled") && next.Find("a").Length() > 0
}

// ParseRating normalizes textual star descriptions ("4.0 out of 5 stars")
// to a float. Unparseable text yields 0.
func ParseRating(text string) float64 {
	for _, pattern := range []*regexp.Regexp{ratingOutOfPattern, ratingStarsPattern} {
		if m := pattern.FindStringSubmatch(text); m != nil {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			if err == nil {
				return v
			}
		}
	}
	return 0
}

// ParseHelpfulVotes reads the helpful-vote statement. A missing or
// unparseable statement means zero votes; "One person found this helpful"
// is the singular special case.
func ParseHelpfulVotes(text string) int {
	if m := helpfulPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil {
			return v
		}
	}
	if strings.Contains(text, "One person found") {
		return 1
	}
	return 0
}

// CleanDate strips the "Reviewed in <region> on " prefix, keeping the
// site-native date text as-is.
func CleanDate(text string) string {
	return strings.TrimSpace(reviewDatePrefix.ReplaceAllString(text, ""))
}
