// Command review-service exposes crawl jobs over HTTP. Jobs run
// unattended: challenges that would need an operator abort the job and
// are reported in its status.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/amazon-review-scraper/internal/api"
	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/config"
	"github.com/maltedev/amazon-review-scraper/internal/crawler"
	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/maltedev/amazon-review-scraper/internal/events"
	"github.com/maltedev/amazon-review-scraper/internal/extractor"
	"github.com/maltedev/amazon-review-scraper/internal/jobs"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/pipeline"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-review-scraper/internal/session"
	"github.com/maltedev/amazon-review-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := browser.New(&browser.Options{
		Headless:       true,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      browser.DefaultOptions().UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
		TimezoneID:     cfg.Browser.TimezoneID,
		ProxyServer:    cfg.Browser.ProxyServer,
		ExtraHeaders:   browser.DefaultOptions().ExtraHeaders,
	})
	if err != nil {
		log.Error("failed to start browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if persisted, err := session.Load(cfg.Login.SessionFile); err == nil {
		if err := b.ApplySession(persisted); err != nil {
			log.Warn("failed to apply persisted session", "error", err)
		}
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			MaxConns: 4,
			MinConns: 1,
		})
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
	}

	var publisher *events.Publisher
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		publisher = events.NewPublisher(client, log)
		defer publisher.Close()
	}

	metrics := crawler.NewMetrics()

	runner := &crawlRunner{
		cfg:       cfg,
		browser:   b,
		db:        db,
		publisher: publisher,
		metrics:   metrics,
		logger:    log,
	}

	manager := jobs.NewManager(runner, log)
	go manager.StartWorker(ctx)

	handlers := api.NewHandlers(manager, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handlers.Router(metrics.Registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// crawlRunner builds a fresh page and crawl engine per job so state from
// a failed job never leaks into the next.
type crawlRunner struct {
	cfg       *config.Config
	browser   *browser.Browser
	db        *database.DB
	publisher *events.Publisher
	metrics   *crawler.Metrics
	logger    *slog.Logger
}

func (r *crawlRunner) Run(ctx context.Context, target models.CrawlTarget) (*models.RunSummary, error) {
	page, err := r.browser.OpenPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	writer, err := pipeline.NewJSONWriter(outputPath(r.cfg.Output.Dir, target))
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	var sink crawler.ReviewSink = pipeline.NewSink(writer)
	if r.db != nil {
		sink = multiSink{sink, database.NewSink(r.db)}
	}

	var diagnostics crawler.Diagnostics
	if r.publisher != nil {
		diagnostics = r.publisher
	}

	c, err := crawler.New(crawler.Config{
		Fetcher:   page,
		Extractor: extractor.New(r.logger),
		Sink:      sink,
		Limiter:   ratelimit.NewSimpleRateLimiter(r.cfg.Scraper.PageDelayMin, r.cfg.Scraper.PageDelayMax),
		Retry: ratelimit.RetryPolicy{
			MaxAttempts: r.cfg.Scraper.MaxRetries,
			BaseDelay:   r.cfg.Scraper.RetryDelay,
			MaxDelay:    r.cfg.Scraper.MaxRetryDelay,
		},
		ProductDelay: r.cfg.Scraper.ProductDelay,
		Diagnostics:  diagnostics,
		Metrics:      r.metrics,
		Logger:       r.logger,
	})
	if err != nil {
		return nil, err
	}

	summary, crawlErr := c.Crawl(ctx, target)

	if summary != nil {
		if r.db != nil {
			if err := r.db.InsertRunSummary(ctx, summary); err != nil {
				r.logger.Warn("failed to store run summary", "error", err)
			}
		}
		if r.publisher != nil {
			if err := r.publisher.PublishRunSummary(ctx, summary); err != nil {
				r.logger.Warn("failed to publish run summary", "error", err)
			}
		}
	}
	return summary, crawlErr
}

func outputPath(dir string, target models.CrawlTarget) string {
	stamp := time.Now().Format("20060102_150405")
	return fmt.Sprintf("%s/reviews_%s_%s.json", dir, stamp, string(target.Filter))
}

type multiSink []crawler.ReviewSink

func (m multiSink) Emit(ctx context.Context, reviews []models.Review) error {
	for _, s := range m {
		if err := s.Emit(ctx, reviews); err != nil {
			return err
		}
	}
	return nil
}
