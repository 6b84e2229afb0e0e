// Command session performs an interactive Amazon login and saves the
// resulting cookies for later crawls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-review-scraper/internal/auth"
	"github.com/maltedev/amazon-review-scraper/internal/browser"
	"github.com/maltedev/amazon-review-scraper/internal/config"
	"github.com/maltedev/amazon-review-scraper/internal/session"
	"github.com/maltedev/amazon-review-scraper/pkg/logger"
)

func main() {
	var (
		sessionFile = flag.String("session-file", "", "Path to write the session cookie file")
		headless    = flag.Bool("headless", false, "Run browser headless (manual challenge solving needs a visible browser)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, "text")
	slog.SetDefault(log)

	if *sessionFile == "" {
		*sessionFile = cfg.Login.SessionFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, cfg, *sessionFile, *headless, log); err != nil {
		log.Error("login failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sessionFile string, headless bool, log *slog.Logger) error {
	opts := browser.DefaultOptions()
	opts.Headless = headless

	b, err := browser.New(opts)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer b.Close()

	persisted, err := session.Load(sessionFile)
	if err != nil {
		persisted = nil
	} else if err := b.ApplySession(persisted); err != nil {
		return err
	}

	page, err := b.OpenPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	var creds *auth.Credentials
	if cfg.HasCredentials() {
		creds = &auth.Credentials{Email: cfg.Login.Email, Password: cfg.Login.Password}
	} else {
		log.Info("no credentials in environment, manual login only")
	}

	automaton := auth.NewAutomaton(page, auth.NewStdinPrompter(), log)
	store, err := automaton.Run(ctx, creds, persisted)
	if err != nil {
		return err
	}

	if err := store.Save(sessionFile); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	log.Info("session saved", "path", sessionFile, "cookies", len(store.Cookies()))
	return nil
}
