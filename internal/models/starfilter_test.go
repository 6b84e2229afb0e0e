package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStarFilter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected StarFilter
		hasError bool
	}{
		{"Five star", "5", FilterFiveStar, false},
		{"One star", "1", FilterOneStar, false},
		{"Positive", "positive", FilterPositive, false},
		{"Critical", "critical", FilterCritical, false},
		{"All", "all", FilterAll, false},
		{"Empty defaults to all", "", FilterAll, false},
		{"Invalid", "6", "", true},
		{"Garbage", "best", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseStarFilter(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestStarFilterRatings(t *testing.T) {
	assert.Equal(t, []int{4, 5}, FilterPositive.Ratings())
	assert.Equal(t, []int{1, 2, 3}, FilterCritical.Ratings())
	assert.Equal(t, []int{5}, FilterFiveStar.Ratings())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, FilterAll.Ratings())
}

func TestReviewListingURLEncodesFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter StarFilter
		page   int
		want   string
	}{
		{"Five star page 1", FilterFiveStar, 1,
			"https://www.amazon.com/product-reviews/B00TEST123/?pageNumber=1&filterByStar=five_star"},
		{"Critical page 3", FilterCritical, 3,
			"https://www.amazon.com/product-reviews/B00TEST123/?pageNumber=3&filterByStar=critical"},
		{"All reviews has no filter param", FilterAll, 2,
			"https://www.amazon.com/product-reviews/B00TEST123/?pageNumber=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReviewListingURL("B00TEST123", tt.filter, tt.page)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchURL(t *testing.T) {
	got := SearchURL("wireless headphones")
	assert.Equal(t, "https://www.amazon.com/s?k=wireless+headphones", got)
}

func TestReviewKey(t *testing.T) {
	a := Review{ProductID: "B001", Reviewer: "Jo", Date: "July 1, 2024", Content: "Great"}
	b := Review{ProductID: "B001", Reviewer: "Jo", Date: "July 1, 2024", Content: "Great", HelpfulVotes: 9}
	c := Review{ProductID: "B002", Reviewer: "Jo", Date: "July 1, 2024", Content: "Great"}

	// Helpful votes are not part of the identity, the product is.
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.True(t, strings.Contains(a.Key(), "B001"))
}

func TestCrawlTargetValidate(t *testing.T) {
	valid := CrawlTarget{Keyword: "laptop bag", Filter: FilterAll, MaxProducts: 3, MaxPagesPerProduct: 2}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CrawlTarget)
	}{
		{"empty keyword", func(c *CrawlTarget) { c.Keyword = "  " }},
		{"zero products", func(c *CrawlTarget) { c.MaxProducts = 0 }},
		{"zero pages", func(c *CrawlTarget) { c.MaxPagesPerProduct = 0 }},
		{"bad filter", func(c *CrawlTarget) { c.Filter = "7" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := valid
			tt.mutate(&target)
			assert.Error(t, target.Validate())
		})
	}
}
