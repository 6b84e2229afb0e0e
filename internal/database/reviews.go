package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	asin        TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	first_seen  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reviews (
	id                BIGSERIAL PRIMARY KEY,
	asin              TEXT NOT NULL REFERENCES products(asin),
	reviewer          TEXT NOT NULL,
	rating            DOUBLE PRECISION NOT NULL,
	review_date       TEXT NOT NULL,
	verified_purchase BOOLEAN NOT NULL DEFAULT FALSE,
	content           TEXT NOT NULL,
	helpful_votes     INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS reviews_identity_idx
	ON reviews (asin, reviewer, review_date, md5(content));

CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id             TEXT PRIMARY KEY,
	keyword            TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL,
	products_found     INTEGER NOT NULL,
	products_completed INTEGER NOT NULL,
	products_abandoned INTEGER NOT NULL,
	pages_fetched      INTEGER NOT NULL,
	total_reviews      INTEGER NOT NULL,
	challenges         INTEGER NOT NULL
);
`

// EnsureSchema creates the review tables if they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertProduct records a discovered product, refreshing title and URL
// on repeat sightings.
func (db *DB) UpsertProduct(ctx context.Context, p models.Product) error {
	query := `
		INSERT INTO products (asin, title, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (asin) DO UPDATE SET
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE products.title END,
			url = EXCLUDED.url,
			last_seen = CURRENT_TIMESTAMP`

	if _, err := db.pool.Exec(ctx, query, p.ASIN, p.Title, p.URL); err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ASIN, err)
	}
	return nil
}

// InsertReviews stores a batch inside one transaction. Rows matching an
// already stored review identity are skipped, so re-crawls are safe.
func (db *DB) InsertReviews(ctx context.Context, reviews []models.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO reviews (asin, reviewer, rating, review_date, verified_purchase, content, helpful_votes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asin, reviewer, review_date, md5(content)) DO NOTHING`

	inserted := 0
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, r := range reviews {
			tag, err := tx.Exec(ctx, query,
				r.ProductID, r.Reviewer, r.Rating, r.Date,
				r.VerifiedPurchase, r.Content, r.HelpfulVotes,
			)
			if err != nil {
				return fmt.Errorf("failed to insert review for %s: %w", r.ProductID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// InsertRunSummary stores the final accounting of one crawl run.
func (db *DB) InsertRunSummary(ctx context.Context, s *models.RunSummary) error {
	query := `
		INSERT INTO crawl_runs (run_id, keyword, started_at, finished_at,
			products_found, products_completed, products_abandoned,
			pages_fetched, total_reviews, challenges)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		s.RunID, s.Keyword, s.StartedAt, s.FinishedAt,
		s.ProductsFound, s.ProductsCompleted, s.ProductsAbandoned,
		s.PagesFetched, s.TotalReviews, s.Challenges,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}
	return nil
}

// ReviewCount reports how many reviews are stored for one product.
func (db *DB) ReviewCount(ctx context.Context, asin string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE asin = $1`, asin,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews for %s: %w", asin, err)
	}
	return count, nil
}

// Sink adapts the database to the crawl engine's emission boundary.
// Products are upserted lazily from the batch itself.
type Sink struct {
	db *DB
}

func NewSink(db *DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Emit(ctx context.Context, reviews []models.Review) error {
	seen := map[string]bool{}
	for _, r := range reviews {
		if seen[r.ProductID] {
			continue
		}
		seen[r.ProductID] = true
		product := models.NewProduct(r.ProductID)
		product.Title = r.ProductTitle
		if err := s.db.UpsertProduct(ctx, product); err != nil {
			return err
		}
	}

	_, err := s.db.InsertReviews(ctx, reviews)
	return err
}
