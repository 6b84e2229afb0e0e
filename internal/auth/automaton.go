// Package auth drives the login flow as an explicit state machine. The
// browser is reached only through the PageDriver interface and the human
// operator through Prompter, so the whole flow is testable with fakes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/amazon-review-scraper/internal/challenge"
	"github.com/maltedev/amazon-review-scraper/internal/session"
)

var (
	// ErrAuthenticationFailed means the automated login was rejected.
	// No session is produced.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrManualLoginAbandoned means the operator declined to complete
	// the manual steps.
	ErrManualLoginAbandoned = errors.New("manual login abandoned")
)

// State names the automaton's position. The set is closed so the control
// flow is enumerable.
type State string

const (
	StateUnauthenticated       State = "unauthenticated"
	StateCredentialsSubmitting State = "credentials_submitting"
	StateAwaitingChallenge     State = "awaiting_challenge"
	StateVerificationPending   State = "verification_pending"
	StateManualFallback        State = "manual_fallback"
	StateAuthenticated         State = "authenticated"
	StateAborted               State = "aborted"
)

// Credentials is the optional email/password pair. It is used transiently
// and never persisted.
type Credentials struct {
	Email    string
	Password string
}

// PageDriver is the slice of browser behavior the automaton needs.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Signal(ctx context.Context) (challenge.PageSignal, error)
	ExportCookies(ctx context.Context) ([]session.Cookie, error)
}

// Prompter is the operator boundary: display state to a human and block
// until they confirm or decline.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

const (
	homeURL   = "https://www.amazon.com"
	signinURL = "https://www.amazon.com/ap/signin?openid.pape.max_auth_age=0" +
		"&openid.return_to=https%3A%2F%2Fwww.amazon.com%2F" +
		"&openid.identity=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select" +
		"&openid.assoc_handle=usflex&openid.mode=checkid_setup" +
		"&openid.claimed_id=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0%2Fidentifier_select" +
		"&openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0&"

	emailSelector    = "#ap_email"
	continueSelector = "#continue"
	passwordSelector = "#ap_password"
	submitSelector   = "#signInSubmit"
)

// Automaton produces a validated session store, either by submitting
// credentials or by handing control to a human.
type Automaton struct {
	driver          PageDriver
	prompter        Prompter
	logger          *slog.Logger
	state           State
	maxManualRounds int
}

func NewAutomaton(driver PageDriver, prompter Prompter, logger *slog.Logger) *Automaton {
	if logger == nil {
		logger = slog.Default()
	}
	return &Automaton{
		driver:          driver,
		prompter:        prompter,
		logger:          logger.With("component", "login"),
		state:           StateUnauthenticated,
		maxManualRounds: 3,
	}
}

// State exposes the current automaton state for diagnostics.
func (a *Automaton) State() State {
	return a.state
}

// Run tries, in order: restoring the persisted session, the automated
// credential flow, and the manual fallback. On success the returned store
// has passed identity verification.
func (a *Automaton) Run(ctx context.Context, creds *Credentials, persisted *session.Store) (*session.Store, error) {
	a.state = StateUnauthenticated

	if persisted != nil {
		if store, err := a.probePersisted(ctx, persisted); err == nil {
			a.state = StateAuthenticated
			return store, nil
		} else {
			a.logger.Info("persisted session did not validate, logging in", "error", err)
		}
	}

	if creds != nil && creds.Email != "" {
		result, err := a.submitCredentials(ctx, creds)
		if err != nil {
			a.state = StateAborted
			return nil, err
		}

		switch result.Kind {
		case challenge.Normal:
			a.state = StateVerificationPending
			return a.verify(ctx)
		case challenge.LoginRedirect:
			// Still on the sign-in path after submission: rejected.
			a.state = StateAborted
			return nil, fmt.Errorf("%w: credentials rejected (%s)", ErrAuthenticationFailed, result.Signature)
		case challenge.Captcha, challenge.TwoFactor:
			a.logger.Info("challenge after credential submission", "kind", result.Kind)
			return a.manualFallback(ctx)
		default:
			a.state = StateAborted
			return nil, fmt.Errorf("%w: blocked during login (%s)", ErrAuthenticationFailed, result.Signature)
		}
	}

	return a.manualFallback(ctx)
}

// probePersisted verifies a restored cookie set against a probe page.
func (a *Automaton) probePersisted(ctx context.Context, store *session.Store) (*session.Store, error) {
	if err := a.driver.Navigate(ctx, homeURL); err != nil {
		return nil, fmt.Errorf("failed to load probe page: %w", err)
	}
	sig, err := a.driver.Signal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read probe page: %w", err)
	}
	if err := store.Verify(sig); err != nil {
		return nil, err
	}

	a.logger.Info("persisted session validated")
	return store, nil
}

// submitCredentials walks the multi-step sign-in form and returns the
// classification of the page it ends on.
func (a *Automaton) submitCredentials(ctx context.Context, creds *Credentials) (challenge.Result, error) {
	a.state = StateCredentialsSubmitting
	a.logger.Info("attempting automated login")

	steps := []struct {
		what string
		fn   func() error
	}{
		{"open sign-in page", func() error { return a.driver.Navigate(ctx, signinURL) }},
		{"enter email", func() error { return a.driver.Fill(ctx, emailSelector, creds.Email) }},
		{"continue", func() error { return a.driver.Click(ctx, continueSelector) }},
		{"enter password", func() error { return a.driver.Fill(ctx, passwordSelector, creds.Password) }},
		{"submit", func() error { return a.driver.Click(ctx, submitSelector) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return challenge.Result{}, fmt.Errorf("%w: %s: %v", ErrAuthenticationFailed, step.what, err)
		}
	}

	a.state = StateAwaitingChallenge
	sig, err := a.driver.Signal(ctx)
	if err != nil {
		return challenge.Result{}, fmt.Errorf("%w: reading post-submit page: %v", ErrAuthenticationFailed, err)
	}
	return challenge.Classify(sig), nil
}

// manualFallback suspends automation until the operator confirms they
// completed the login in the visible browser, then re-classifies. It
// loops while the page stays challenged, up to maxManualRounds.
func (a *Automaton) manualFallback(ctx context.Context) (*session.Store, error) {
	for round := 0; round < a.maxManualRounds; round++ {
		a.state = StateManualFallback
		a.logger.Info("waiting for manual login", "round", round+1)

		ok, err := a.prompter.Confirm(ctx,
			"Complete the sign-in (including any CAPTCHA or 2FA) in the browser window, then confirm.")
		if err != nil {
			a.state = StateAborted
			return nil, fmt.Errorf("operator prompt failed: %w", err)
		}
		if !ok {
			a.state = StateAborted
			return nil, ErrManualLoginAbandoned
		}

		sig, err := a.driver.Signal(ctx)
		if err != nil {
			a.state = StateAborted
			return nil, fmt.Errorf("failed to read page after manual login: %w", err)
		}
		if res := challenge.Classify(sig); res.Kind != challenge.Normal {
			a.logger.Warn("still challenged after manual round", "kind", res.Kind, "signature", res.Signature)
			continue
		}

		a.state = StateVerificationPending
		return a.verify(ctx)
	}

	a.state = StateAborted
	return nil, fmt.Errorf("%w: still challenged after %d manual rounds", ErrManualLoginAbandoned, a.maxManualRounds)
}

// verify confirms the account identity marker on a known authenticated
// page and exports the cookie set. Reaching Authenticated any other way
// is impossible.
func (a *Automaton) verify(ctx context.Context) (*session.Store, error) {
	if err := a.driver.Navigate(ctx, homeURL); err != nil {
		a.state = StateAborted
		return nil, fmt.Errorf("%w: loading verification page: %v", ErrAuthenticationFailed, err)
	}
	sig, err := a.driver.Signal(ctx)
	if err != nil {
		a.state = StateAborted
		return nil, fmt.Errorf("%w: reading verification page: %v", ErrAuthenticationFailed, err)
	}

	cookies, err := a.driver.ExportCookies(ctx)
	if err != nil {
		a.state = StateAborted
		return nil, fmt.Errorf("%w: exporting cookies: %v", ErrAuthenticationFailed, err)
	}

	store := session.New(cookies)
	if err := store.Verify(sig); err != nil {
		a.state = StateAborted
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	a.state = StateAuthenticated
	a.logger.Info("login verified", "cookies", len(cookies))
	return store, nil
}
