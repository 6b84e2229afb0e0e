package models

import "fmt"

// StarFilter selects the review-rating subset requested for a crawl.
type StarFilter string

const (
	FilterOneStar   StarFilter = "1"
	FilterTwoStar   StarFilter = "2"
	FilterThreeStar StarFilter = "3"
	FilterFourStar  StarFilter = "4"
	FilterFiveStar  StarFilter = "5"
	FilterPositive  StarFilter = "positive"
	FilterCritical  StarFilter = "critical"
	FilterAll       StarFilter = "all"
)

var starFilterQuery = map[StarFilter]string{
	FilterOneStar:   "one_star",
	FilterTwoStar:   "two_star",
	FilterThreeStar: "three_star",
	FilterFourStar:  "four_star",
	FilterFiveStar:  "five_star",
	FilterPositive:  "positive",
	FilterCritical:  "critical",
}

// ParseStarFilter validates a user-supplied filter string. Empty input
// means no filtering.
func ParseStarFilter(s string) (StarFilter, error) {
	if s == "" || s == string(FilterAll) {
		return FilterAll, nil
	}
	f := StarFilter(s)
	if _, ok := starFilterQuery[f]; !ok {
		return "", fmt.Errorf("invalid star filter %q", s)
	}
	return f, nil
}

// QueryValue returns the filterByStar query parameter value, or "" when
// no filter should be applied.
func (f StarFilter) QueryValue() string {
	return starFilterQuery[f]
}

// Ratings returns the set of whole-star ratings the filter admits.
func (f StarFilter) Ratings() []int {
	switch f {
	case FilterOneStar:
		return []int{1}
	case FilterTwoStar:
		return []int{2}
	case FilterThreeStar:
		return []int{3}
	case FilterFourStar:
		return []int{4}
	case FilterFiveStar:
		return []int{5}
	case FilterPositive:
		return []int{4, 5}
	case FilterCritical:
		return []int{1, 2, 3}
	default:
		return []int{1, 2, 3, 4, 5}
	}
}

// Matches reports whether a rating falls inside the filter's set.
func (f StarFilter) Matches(rating float64) bool {
	for _, r := range f.Ratings() {
		if int(rating+0.5) == r {
			return true
		}
	}
	return false
}
