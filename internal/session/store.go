// Package session holds the reusable authenticated browsing state: the
// cookie set exported from a browser context plus a verified login flag.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
)

// identitySelector is the account menu element that carries the signed-in
// greeting on authenticated pages.
const identitySelector = "#nav-link-accountList-nav-line-1"

// Cookie mirrors the browser cookie fields needed to replay a session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Store is the session state for one run. Authenticated is derived, never
// assumed: it turns true only through Verify, regardless of how many
// cookies are present.
type Store struct {
	mu            sync.RWMutex
	cookies       []Cookie
	authenticated bool
	verifiedAt    time.Time
}

// New builds an unverified store from a cookie set.
func New(cookies []Cookie) *Store {
	s := &Store{cookies: make([]Cookie, len(cookies))}
	copy(s.cookies, cookies)
	return s
}

// Load reads a persisted session file written by Save (or by the cookie
// extraction helper). The returned store is always unauthenticated until
// a probe page verifies it.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("session file %s contains no cookies", path)
	}

	return New(cookies), nil
}

// Save persists the cookie set. The authentication flag is deliberately
// not persisted; a fresh process must re-verify.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.cookies, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Cookies returns a copy of the cookie set.
func (s *Store) Cookies() []Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// Replace swaps the cookie set, e.g. after a fresh login exported new
// cookies. The store drops back to unauthenticated.
func (s *Store) Replace(cookies []Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = make([]Cookie, len(cookies))
	copy(s.cookies, cookies)
	s.authenticated = false
}

// Authenticated reports whether the session passed identity verification.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Verify inspects a probe page and marks the store authenticated when the
// page is unchallenged and carries the account identity marker. Cookie
// presence alone never flips the flag.
func (s *Store) Verify(sig challenge.PageSignal) error {
	if res := challenge.Classify(sig); res.Kind != challenge.Normal {
		return fmt.Errorf("probe page is challenged (%s: %s)", res.Kind, res.Signature)
	}
	if !HasAccountIdentity(sig) {
		return fmt.Errorf("probe page has no account identity marker")
	}

	s.mu.Lock()
	s.authenticated = true
	s.verifiedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Invalidate drops the authenticated flag, e.g. after a mid-crawl login
// redirect showed the cookies no longer hold.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
}

// VerifiedAt returns when the last successful verification happened.
func (s *Store) VerifiedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifiedAt
}

// HasAccountIdentity reports whether a page shows the signed-in account
// greeting.
func HasAccountIdentity(sig challenge.PageSignal) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sig.Content))
	if err != nil {
		return false
	}

	text := strings.TrimSpace(doc.Find(identitySelector).Text())
	if text == "" {
		return false
	}
	// Signed-out pages render the same element as "Hello, sign in".
	if strings.Contains(strings.ToLower(text), "sign in") {
		return false
	}
	return strings.Contains(text, "Hello") || strings.Contains(text, "Hi,")
}
