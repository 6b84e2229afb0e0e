// Package events publishes crawl diagnostics to Redis streams so an
// operator dashboard or alerting consumer can watch a run live. Every
// publish is fire-and-forget: the crawl never stalls on the stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
	"github.com/maltedev/amazon-review-scraper/internal/models"
)

const (
	ChallengeStream = "scraper:challenges"
	RunStream       = "scraper:runs"
)

// RedisClient is the slice of go-redis the publisher needs, kept narrow
// for testing with fakes.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// ChallengeEvent is the payload published for every non-normal page
// classification.
type ChallengeEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Kind      string    `json:"kind"`
	Signature string    `json:"signature"`
	PageURL   string    `json:"page_url"`
}

type Publisher struct {
	client RedisClient
	logger *slog.Logger
	runID  string
}

func NewPublisher(client RedisClient, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		logger: logger.With("component", "events"),
	}
}

// WithRunID returns a publisher that stamps events with the run's id.
func (p *Publisher) WithRunID(runID string) *Publisher {
	return &Publisher{client: p.client, logger: p.logger, runID: runID}
}

// RecordChallenge publishes a challenge sighting. Failures are logged
// and swallowed; diagnostics never abort a crawl.
func (p *Publisher) RecordChallenge(ctx context.Context, pageURL string, res challenge.Result) {
	event := ChallengeEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		RunID:     p.runID,
		Kind:      string(res.Kind),
		Signature: res.Signature,
		PageURL:   pageURL,
	}

	if err := p.publish(ctx, ChallengeStream, "challenge.detected", event.EventID, event); err != nil {
		p.logger.Error("failed to publish challenge event",
			"event_id", event.EventID, "kind", event.Kind, "error", err)
	}
}

// PublishRunSummary announces a finished run on the run stream.
func (p *Publisher) PublishRunSummary(ctx context.Context, summary *models.RunSummary) error {
	if err := p.publish(ctx, RunStream, "run.finished", summary.RunID, summary); err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, stream, eventType, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"id":        id,
			"type":      eventType,
			"timestamp": fmt.Sprintf("%d", time.Now().UnixNano()),
			"data":      string(data),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
