package pipeline

import (
	"context"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

// Sink adapts an OutputWriter to the crawl engine's emission boundary.
// Writes are context-blind: a batch already extracted is flushed even
// when the run is being cancelled.
type Sink struct {
	writer OutputWriter
}

func NewSink(writer OutputWriter) *Sink {
	return &Sink{writer: writer}
}

func (s *Sink) Emit(_ context.Context, reviews []models.Review) error {
	return s.writer.Write(reviews)
}
