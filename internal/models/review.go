package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const baseURL = "https://www.amazon.com"

// Review is a single extracted product review. Amazon exposes no stable
// review identifier, so identity is derived from the field combination
// returned by Key.
type Review struct {
	ProductID        string  `json:"product_id"`
	ProductTitle     string  `json:"product_title"`
	Reviewer         string  `json:"reviewer"`
	Rating           float64 `json:"rating"`
	Date             string  `json:"date"`
	VerifiedPurchase bool    `json:"verified_purchase"`
	Content          string  `json:"content"`
	HelpfulVotes     int     `json:"helpful_votes"`
}

// Key returns the deduplication identity for the review.
func (r Review) Key() string {
	return strings.Join([]string{r.ProductID, r.Reviewer, r.Date, r.Content}, "\x1f")
}

// Product is a search result entry in Amazon's relevance order.
type Product struct {
	ASIN     string `json:"asin"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// NewProduct builds a product from its ASIN with the canonical detail URL.
func NewProduct(asin string) Product {
	return Product{
		ASIN: asin,
		URL:  fmt.Sprintf("%s/dp/%s", baseURL, asin),
	}
}

// SearchURL returns the search results URL for a keyword.
func SearchURL(keyword string) string {
	return fmt.Sprintf("%s/s?k=%s", baseURL, url.QueryEscape(keyword))
}

// ReviewListingURL returns the review listing URL for a product page,
// parameterized by star filter and page number.
func ReviewListingURL(asin string, filter StarFilter, page int) string {
	u := fmt.Sprintf("%s/product-reviews/%s/?pageNumber=%d", baseURL, asin, page)
	if q := filter.QueryValue(); q != "" {
		u += "&filterByStar=" + q
	}
	return u
}

// CrawlTarget describes one crawl run.
type CrawlTarget struct {
	Keyword            string     `json:"keyword"`
	Filter             StarFilter `json:"star_filter"`
	MaxProducts        int        `json:"max_products"`
	MaxPagesPerProduct int        `json:"max_pages_per_product"`
}

func (t CrawlTarget) Validate() error {
	if strings.TrimSpace(t.Keyword) == "" {
		return fmt.Errorf("keyword is required")
	}
	if t.MaxProducts < 1 {
		return fmt.Errorf("max products must be at least 1, got %d", t.MaxProducts)
	}
	if t.MaxPagesPerProduct < 1 {
		return fmt.Errorf("max pages per product must be at least 1, got %d", t.MaxPagesPerProduct)
	}
	if _, err := ParseStarFilter(string(t.Filter)); err != nil {
		return err
	}
	return nil
}

// RunSummary is the metadata emitted alongside the review stream.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	Keyword           string    `json:"keyword"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	ProductsFound     int       `json:"products_found"`
	ProductsCompleted int       `json:"products_completed"`
	ProductsAbandoned int       `json:"products_abandoned"`
	PagesFetched      int       `json:"pages_fetched"`
	TotalReviews      int       `json:"total_reviews"`
	Challenges        int       `json:"challenges"`
}
