// Package pipeline delivers extracted reviews to output files. Writers
// are append-oriented so a crawl aborted midway still leaves everything
// extracted so far on disk.
package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

// OutputWriter receives review batches as the crawl produces them.
type OutputWriter interface {
	Write(reviews []models.Review) error
	Close() error
}

// CSVWriter streams records row by row; every batch is flushed to disk.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"product_id", "product_title", "reviewer", "rating", "date", "verified_purchase", "content", "helpful_votes"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{file: f, writer: writer}, nil
}

func (cw *CSVWriter) Write(reviews []models.Review) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range reviews {
		record := []string{
			r.ProductID,
			r.ProductTitle,
			r.Reviewer,
			strconv.FormatFloat(r.Rating, 'f', 1, 64),
			r.Date,
			strconv.FormatBool(r.VerifiedPurchase),
			r.Content,
			strconv.Itoa(r.HelpfulVotes),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// jsonDocument is the envelope written by JSONWriter on Close.
type jsonDocument struct {
	ScrapeDate   string          `json:"scrape_date"`
	TotalReviews int             `json:"total_reviews"`
	Reviews      []models.Review `json:"reviews"`
}

// JSONWriter collects reviews and writes a single document on Close.
// Unlike the CSV writer it has to buffer: the envelope carries a total.
type JSONWriter struct {
	file    *os.File
	reviews []models.Review
	mu      sync.Mutex
}

func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}
	return &JSONWriter{file: f}, nil
}

func (jw *JSONWriter) Write(reviews []models.Review) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.reviews = append(jw.reviews, reviews...)
	return nil
}

func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	doc := jsonDocument{
		ScrapeDate:   time.Now().Format(time.RFC3339),
		TotalReviews: len(jw.reviews),
		Reviews:      jw.reviews,
	}
	if doc.Reviews == nil {
		doc.Reviews = []models.Review{}
	}

	buffer := bufio.NewWriter(jw.file)
	encoder := json.NewEncoder(buffer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		jw.file.Close()
		return fmt.Errorf("encode json document: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// MultiWriter fans batches out to several writers at once.
type MultiWriter struct {
	writers []OutputWriter
}

func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(reviews []models.Review) error {
	for _, w := range mw.writers {
		if err := w.Write(reviews); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
