// Package challenge classifies loaded pages into the anti-bot responses
// Amazon serves when it suspects automated access. Classification is a
// pure function of a page snapshot so callers can feed it synthetic
// signals in tests instead of live pages.
package challenge

import "strings"

// Kind is the classification of a loaded page.
type Kind string

const (
	Normal        Kind = "normal"
	SoftBlock     Kind = "soft_block"
	Captcha       Kind = "captcha"
	TwoFactor     Kind = "two_factor"
	LoginRedirect Kind = "login_redirect"
)

// PageSignal is an opaque snapshot of a loaded page: the final URL after
// redirects plus the document title and serialized content.
type PageSignal struct {
	URL     string
	Title   string
	Content string
}

// Result carries the classification and the signature that triggered it,
// for diagnostics.
type Result struct {
	Kind      Kind
	Signature string
}

var signinPaths = []string{
	"/ap/signin",
	"/ap/cvf/",
}

var captchaMarkers = []string{
	"captchacharacters",
	"auth-captcha-image",
	"cvf_captcha_input",
	"Enter the characters you see below",
	"Type the characters you see in this image",
}

var twoFactorMarkers = []string{
	"auth-mfa-form",
	"auth-mfa-otpcode",
	"otpCode",
	"Two-Step Verification",
	"cvf-challenge-form",
}

var softBlockMarkers = []string{
	"Sorry! Something went wrong",
	"Request was throttled",
	"To discuss automated access to Amazon data please contact",
	"we just need to make sure you're not a robot",
}

// Classify maps a page signal to exactly one Result. Precedence is fixed:
// LoginRedirect, then Captcha, then TwoFactor, then SoftBlock, then
// Normal. The first match wins so a sign-in page that also renders a
// CAPTCHA is still reported as a login redirect.
func Classify(sig PageSignal) Result {
	lowerURL := strings.ToLower(sig.URL)
	for _, path := range signinPaths {
		if strings.Contains(lowerURL, path) {
			return Result{Kind: LoginRedirect, Signature: path}
		}
	}

	if strings.Contains(lowerURL, "/errors/validatecaptcha") {
		return Result{Kind: Captcha, Signature: "/errors/validatecaptcha"}
	}
	for _, marker := range captchaMarkers {
		if strings.Contains(sig.Content, marker) {
			return Result{Kind: Captcha, Signature: marker}
		}
	}

	for _, marker := range twoFactorMarkers {
		if strings.Contains(sig.Content, marker) {
			return Result{Kind: TwoFactor, Signature: marker}
		}
	}

	for _, marker := range softBlockMarkers {
		if strings.Contains(sig.Title, marker) || strings.Contains(sig.Content, marker) {
			return Result{Kind: SoftBlock, Signature: marker}
		}
	}

	return Result{Kind: Normal}
}

// Interrupting reports whether a kind cannot be recovered by retrying and
// needs operator intervention instead.
func (k Kind) Interrupting() bool {
	switch k {
	case Captcha, TwoFactor, LoginRedirect:
		return true
	}
	return false
}
