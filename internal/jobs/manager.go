// Package jobs tracks crawl jobs for the review service. Jobs run one at
// a time: the service owns a single browser and interleaved crawls would
// trip rate limiting immediately.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/amazon-review-scraper/internal/models"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CrawlRunner executes one crawl target. The service wires this to the
// crawl engine; tests substitute fakes.
type CrawlRunner interface {
	Run(ctx context.Context, target models.CrawlTarget) (*models.RunSummary, error)
}

// Job is one queued or finished crawl.
type Job struct {
	ID          string             `json:"id"`
	Target      models.CrawlTarget `json:"target"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Summary     *models.RunSummary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Stats aggregates the manager's job history.
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalReviews  int     `json:"total_reviews"`
	SuccessRate   float64 `json:"success_rate"`
}

type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	queue  chan string
	runner CrawlRunner
	logger *slog.Logger
}

func NewManager(runner CrawlRunner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		queue:  make(chan string, 64),
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// CreateJob validates the target and queues it for the worker.
func (m *Manager) CreateJob(target models.CrawlTarget) (*Job, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl target: %w", err)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Target:    target,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("job queue is full")
	}

	m.logger.Info("job created", "id", job.ID, "keyword", target.Keyword)
	return job, nil
}

// GetJob returns a snapshot of one job.
func (m *Manager) GetJob(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns all jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// GetStats aggregates current job history.
func (m *Manager) GetStats() *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		if job.Summary != nil {
			stats.TotalReviews += job.Summary.TotalReviews
		}
	}
	finished := stats.CompletedJobs + stats.FailedJobs
	if finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats
}

// StartWorker drains the queue until the context is cancelled.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopped")
			return
		case jobID := <-m.queue:
			m.runJob(ctx, jobID)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	target := job.Target
	m.mu.Unlock()

	m.logger.Info("job started", "id", jobID, "keyword", target.Keyword)
	summary, err := m.runner.Run(ctx, target)

	m.mu.Lock()
	defer m.mu.Unlock()
	done := time.Now()
	job.CompletedAt = &done
	job.Summary = summary
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		m.logger.Error("job failed", "id", jobID, "error", err)
		return
	}
	job.Status = StatusCompleted
	m.logger.Info("job completed", "id", jobID, "reviews", summary.TotalReviews)
}
