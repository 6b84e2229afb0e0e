// Package browser owns the playwright lifecycle and adapts live pages to
// the narrow interfaces the crawl and login engines consume.
package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/amazon-review-scraper/internal/session"
)

// stealthScript masks the most common automation fingerprints before any
// page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = {runtime: {}};
`

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "America/New_York",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to install init script: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(DefaultOptions().Timeout.Milliseconds()))
	return page, nil
}

// ApplySession injects the store's cookies into the browser context.
// Verification stays with the caller; injected cookies prove nothing.
func (b *Browser) ApplySession(store *session.Store) error {
	cookies := store.Cookies()
	if len(cookies) == 0 {
		return nil
	}

	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		converted = append(converted, toOptionalCookie(c))
	}
	if err := b.context.AddCookies(converted); err != nil {
		return fmt.Errorf("failed to inject session cookies: %w", err)
	}

	b.logger.Info("session cookies applied", "count", len(cookies))
	return nil
}

// ExportCookies snapshots the context's cookie jar in the store's format.
func (b *Browser) ExportCookies() ([]session.Cookie, error) {
	raw, err := b.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read context cookies: %w", err)
	}

	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, fromContextCookie(c))
	}
	return cookies, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

func toOptionalCookie(c session.Cookie) playwright.OptionalCookie {
	out := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   playwright.String(c.Domain),
		Path:     playwright.String(c.Path),
		Secure:   playwright.Bool(c.Secure),
		HttpOnly: playwright.Bool(c.HTTPOnly),
	}
	if c.Expires != 0 {
		out.Expires = playwright.Float(c.Expires)
	}
	if attr := sameSiteAttribute(c.SameSite); attr != nil {
		out.SameSite = attr
	}
	return out
}

func fromContextCookie(c playwright.Cookie) session.Cookie {
	out := session.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if c.SameSite != nil {
		out.SameSite = string(*c.SameSite)
	}
	return out
}

func sameSiteAttribute(s string) *playwright.SameSiteAttribute {
	switch s {
	case "Strict":
		return playwright.SameSiteAttributeStrict
	case "Lax":
		return playwright.SameSiteAttributeLax
	case "None":
		return playwright.SameSiteAttributeNone
	}
	return nil
}
