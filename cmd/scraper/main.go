package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/amazon-review-scraper/internal/auth"
	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/config"
	"github.com/maltedev/amazon-review-scraper/internal/crawler"
	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/maltedev/amazon-review-scraper/internal/events"
	"github.com/maltedev/amazon-review-scraper/internal/extractor"
	"github.com/maltedev/amazon-review-scraper/internal/models"
	"github.com/maltedev/amazon-review-scraper/internal/pipeline"
	"github.com/maltedev/amazon-review-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-review-scraper/internal/session"
	"github.com/maltedev/amazon-review-scraper/pkg/logger"
)

func main() {
	var (
		keyword     = flag.String("keyword", "", "Search keyword to crawl reviews for")
		stars       = flag.String("stars", "all", "Star filter: 1-5, positive, critical, or all")
		maxProducts = flag.Int("max-products", 5, "Maximum products to crawl")
		maxPages    = flag.Int("max-pages", 10, "Maximum review pages per product")
		headless    = flag.Bool("headless", true, "Run browser in headless mode")
		sessionFile = flag.String("session-file", "", "Path to the session cookie file")
		outputDir   = flag.String("output", "", "Output directory")
		skipLogin   = flag.Bool("no-login", false, "Crawl anonymously even when credentials are set")
	)
	flag.Parse()

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

	if *keyword == "" {
		fmt.Fprintln(os.Stderr, "usage: scraper -keyword <keyword> [-stars 5] [-max-products 5] [-max-pages 10]")
		os.Exit(2)
	}

	filter, err := models.ParseStarFilter(*stars)
	if err != nil {
		log.Error("invalid star filter", "error", err)
		os.Exit(2)
	}

	target := models.CrawlTarget{
		Keyword:            *keyword,
		Filter:             filter,
		MaxProducts:        *maxProducts,
		MaxPagesPerProduct: *maxPages,
	}
	if err := target.Validate(); err != nil {
		log.Error("invalid crawl target", "error", err)
		os.Exit(2)
	}

	if *sessionFile == "" {
		*sessionFile = cfg.Login.SessionFile
	}
	if *outputDir == "" {
		*outputDir = cfg.Output.Dir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal, finishing current page")
		cancel()
	}()

	if err := run(ctx, cfg, target, *headless, *sessionFile, *outputDir, *skipLogin, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("crawl cancelled, partial results kept")
			return
		}
		log.Error("crawl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, target models.CrawlTarget, headless bool, sessionFile, outputDir string, skipLogin bool, log *slog.Logger) error {
	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.Locale = cfg.Browser.Locale
	browserOpts.TimezoneID = cfg.Browser.TimezoneID
	browserOpts.ProxyServer = cfg.Browser.ProxyServer

	b, err := browser.New(browserOpts)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer b.Close()

	persisted, err := session.Load(sessionFile)
	if err != nil {
		log.Info("no persisted session", "path", sessionFile)
		persisted = nil
	} else if err := b.ApplySession(persisted); err != nil {
		return err
	}

	page, err := b.OpenPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	prompter := auth.NewStdinPrompter()

	store, err := login(ctx, cfg, page, prompter, persisted, skipLogin, log)
	if err != nil {
		return err
	}
	if store != nil && store.Authenticated() {
		if err := store.Save(sessionFile); err != nil {
			log.Warn("failed to persist session", "error", err)
		} else {
			log.Info("session persisted", "path", sessionFile)
		}
	}

	writer, err := buildWriter(cfg, outputDir, target)
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Error("failed to finish output", "error", err)
		}
	}()

	var sink crawler.ReviewSink = pipeline.NewSink(writer)

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
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = multiSink{sink, database.NewSink(db)}
	}

	var diagnostics crawler.Diagnostics
	var publisher *events.Publisher
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		publisher = events.NewPublisher(client, log)
		defer publisher.Close()
		diagnostics = publisher
	}

	metrics := crawler.NewMetrics()

	c, err := crawler.New(crawler.Config{
		Fetcher:   page,
		Extractor: extractor.New(log),
		Sink:      sink,
		Session:   store,
		Prompter:  prompter,
		Limiter:   ratelimit.NewSimpleRateLimiter(cfg.Scraper.PageDelayMin, cfg.Scraper.PageDelayMax),
		Retry: ratelimit.RetryPolicy{
			MaxAttempts: cfg.Scraper.MaxRetries,
			BaseDelay:   cfg.Scraper.RetryDelay,
			MaxDelay:    cfg.Scraper.MaxRetryDelay,
		},
		ProductDelay: cfg.Scraper.ProductDelay,
		Diagnostics:  diagnostics,
		Metrics:      metrics,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	summary, crawlErr := c.Crawl(ctx, target)

	if summary != nil {
		log.Info("run summary",
			"run_id", summary.RunID,
			"products_found", summary.ProductsFound,
			"products_completed", summary.ProductsCompleted,
			"products_abandoned", summary.ProductsAbandoned,
			"pages_fetched", summary.PagesFetched,
			"total_reviews", summary.TotalReviews,
			"challenges", summary.Challenges,
			"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))

		if db != nil {
			if err := db.InsertRunSummary(ctx, summary); err != nil {
				log.Warn("failed to store run summary", "error", err)
			}
		}
		if publisher != nil {
			if err := publisher.PublishRunSummary(ctx, summary); err != nil {
				log.Warn("failed to publish run summary", "error", err)
			}
		}
	}

	return crawlErr
}

// login resolves the session: persisted cookies first, then automated
// credentials, then manual fallback. Anonymous crawls skip it entirely.
func login(ctx context.Context, cfg *config.Config, page *browser.Page, prompter auth.Prompter, persisted *session.Store, skip bool, log *slog.Logger) (*session.Store, error) {
	if skip {
		log.Info("login skipped, crawling anonymously")
		return nil, nil
	}
	if !cfg.HasCredentials() && persisted == nil {
		log.Info("no credentials and no persisted session, crawling anonymously")
		return nil, nil
	}

	var creds *auth.Credentials
	if cfg.HasCredentials() {
		creds = &auth.Credentials{Email: cfg.Login.Email, Password: cfg.Login.Password}
	}

	automaton := auth.NewAutomaton(page, prompter, log)
	store, err := automaton.Run(ctx, creds, persisted)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return store, nil
}

func buildWriter(cfg *config.Config, outputDir string, target models.CrawlTarget) (pipeline.OutputWriter, error) {
	stamp := time.Now().Format("20060102_150405")
	base := fmt.Sprintf("reviews_%s_%s", sanitize(target.Keyword), stamp)

	var writers []pipeline.OutputWriter
	for _, format := range strings.Split(cfg.Output.Formats, ",") {
		switch strings.TrimSpace(format) {
		case "csv":
			w, err := pipeline.NewCSVWriter(filepath.Join(outputDir, base+".csv"))
			if err != nil {
				return nil, err
			}
			writers = append(writers, w)
		case "json":
			w, err := pipeline.NewJSONWriter(filepath.Join(outputDir, base+".json"))
			if err != nil {
				return nil, err
			}
			writers = append(writers, w)
		case "":
		default:
			return nil, fmt.Errorf("unknown output format %q", format)
		}
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("no output formats configured")
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return pipeline.NewMultiWriter(writers...), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// multiSink fans batches out to every sink; the file sink comes first so
// a database hiccup never loses extracted reviews.
type multiSink []crawler.ReviewSink

func (m multiSink) Emit(ctx context.Context, reviews []models.Review) error {
	for _, s := range m {
		if err := s.Emit(ctx, reviews); err != nil {
			return err
		}
	}
	return nil
}
