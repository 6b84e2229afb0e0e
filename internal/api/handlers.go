// Package api exposes the review service's HTTP surface.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/amazon-review-scraper/internal/jobs"
	"github.com/maltedev/amazon-review-scraper/internal/models"
)

type Handlers struct {
	jobs   *jobs.Manager
	logger *slog.Logger
}

func NewHandlers(jobs *jobs.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{jobs: jobs, logger: logger.With("component", "api")}
}

// Router assembles the chi router. A nil registry disables /metrics.
func (h *Handlers) Router(registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Get("/stats", h.GetStats)
	})

	return r
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateJobRequest is the body for POST /api/v1/jobs.
type CreateJobRequest struct {
	Keyword     string `json:"keyword"`
	StarFilter  string `json:"star_filter"`
	MaxProducts int    `json:"max_products"`
	MaxPages    int    `json:"max_pages"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Keyword == "" {
		h.respondError(w, http.StatusBadRequest, "keyword is required")
		return
	}

	filter, err := models.ParseStarFilter(req.StarFilter)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxProducts <= 0 {
		req.MaxProducts = 5
	}
	if req.MaxPages <= 0 {
		req.MaxPages = 10
	}

	job, err := h.jobs.CreateJob(models.CrawlTarget{
		Keyword:            req.Keyword,
		Filter:             filter,
		MaxProducts:        req.MaxProducts,
		MaxPagesPerProduct: req.MaxPages,
	})
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
