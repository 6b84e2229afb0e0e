package crawler

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the crawl engine. All
// methods are nil-safe so wiring metrics stays optional.
type Metrics struct {
	Registry         *prometheus.Registry
	PagesFetched     *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	ChallengesTotal  *prometheus.CounterVec
	ReviewsExtracted prometheus.Counter
	ProductsAbandoned prometheus.Counter
}

// NewMetrics constructs and registers all collectors on a dedicated
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_fetched_total",
			Help: "Total pages fetched by the crawler.",
		},
		[]string{"phase"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total navigation retry attempts.",
		},
	)
	challenges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_challenges_total",
			Help: "Total anti-bot challenges observed, by kind.",
		},
		[]string{"kind"},
	)
	reviews := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_reviews_extracted_total",
			Help: "Total unique reviews handed to the output sink.",
		},
	)
	abandoned := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_products_abandoned_total",
			Help: "Products abandoned after exhausting retries.",
		},
	)

	registry.MustRegister(pages, retries, challenges, reviews, abandoned)

	return &Metrics{
		Registry:          registry,
		PagesFetched:      pages,
		RetriesTotal:      retries,
		ChallengesTotal:   challenges,
		ReviewsExtracted:  reviews,
		ProductsAbandoned: abandoned,
	}
}

func (m *Metrics) IncPage(phase string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(phase).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncChallenge(kind string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddReviews(n int) {
	if m == nil {
		return
	}
	m.ReviewsExtracted.Add(float64(n))
}

func (m *Metrics) IncAbandoned() {
	if m == nil {
		return
	}
	m.ProductsAbandoned.Inc()
}
