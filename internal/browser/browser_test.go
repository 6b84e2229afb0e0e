package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-review-scraper/internal/session"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-US", opts.Locale)
	assert.Contains(t, opts.ExtraHeaders, "Accept-Language")
}

func TestCookieConversionRoundTrip(t *testing.T) {
	in := session.Cookie{
		Name:     "at-main",
		Value:    "token",
		Domain:   ".amazon.com",
		Path:     "/",
		Expires:  1924992000,
		Secure:   true,
		HTTPOnly: true,
		SameSite: "Lax",
	}

	opt := toOptionalCookie(in)
	assert.Equal(t, "at-main", opt.Name)
	assert.Equal(t, "token", opt.Value)
	require.NotNil(t, opt.Domain)
	assert.Equal(t, ".amazon.com", *opt.Domain)
	require.NotNil(t, opt.Expires)
	assert.Equal(t, float64(1924992000), *opt.Expires)
	require.NotNil(t, opt.SameSite)
	assert.Equal(t, "Lax", string(*opt.SameSite))
}

func TestToOptionalCookieOmitsZeroExpiry(t *testing.T) {
	opt := toOptionalCookie(session.Cookie{Name: "session-id", Value: "x"})
	assert.Nil(t, opt.Expires, "session cookies carry no expiry")
	assert.Nil(t, opt.SameSite)
}

func TestSameSiteAttribute(t *testing.T) {
	assert.Nil(t, sameSiteAttribute(""))
	assert.Nil(t, sameSiteAttribute("unknown"))
	require.NotNil(t, sameSiteAttribute("Strict"))
	assert.Equal(t, "Strict", string(*sameSiteAttribute("Strict")))
}
