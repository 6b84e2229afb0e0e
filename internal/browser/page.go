package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
	"github.com/maltedev/amazon-review-scraper/internal/crawler"
	"github.com/maltedev/amazon-review-scraper/internal/session"
)

// Page adapts one live playwright page to the crawl engine's PageFetcher
// and the login engine's PageDriver. The engines never see playwright
// types, only page snapshots.
type Page struct {
	browser *Browser
	page    playwright.Page
	logger  *slog.Logger
}

func (b *Browser) OpenPage() (*Page, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	return &Page{
		browser: b,
		page:    page,
		logger:  b.logger.With("component", "page"),
	}, nil
}

// Fetch navigates to url and snapshots the result. Navigation failures
// are reported as transient; a loaded page that cannot be read is not.
func (p *Page) Fetch(ctx context.Context, url string) (challenge.PageSignal, error) {
	if err := p.Navigate(ctx, url); err != nil {
		return challenge.PageSignal{}, &crawler.TransientNavigationError{URL: url, Err: err}
	}
	return p.Signal(ctx)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Fill(selector, value); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Click(selector); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// Signal snapshots the page into the classifier's input: final URL,
// title, and rendered content.
func (p *Page) Signal(ctx context.Context) (challenge.PageSignal, error) {
	if err := ctx.Err(); err != nil {
		return challenge.PageSignal{}, err
	}

	title, err := p.page.Title()
	if err != nil {
		return challenge.PageSignal{}, fmt.Errorf("failed to read page title: %w", err)
	}
	content, err := p.page.Content()
	if err != nil {
		return challenge.PageSignal{}, fmt.Errorf("failed to read page content: %w", err)
	}

	return challenge.PageSignal{
		URL:     p.page.URL(),
		Title:   title,
		Content: content,
	}, nil
}

func (p *Page) ExportCookies(ctx context.Context) ([]session.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.browser.ExportCookies()
}

func (p *Page) Close() error {
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}
