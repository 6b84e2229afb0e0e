package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		sig      PageSignal
		expected Kind
	}{
		{
			name:     "Plain review page",
			sig:      PageSignal{URL: "https://www.amazon.com/product-reviews/B00X/?pageNumber=1", Content: `<div data-hook="review">nice</div>`},
			expected: Normal,
		},
		{
			name:     "Sign-in redirect",
			sig:      PageSignal{URL: "https://www.amazon.com/ap/signin?openid.mode=checkid_setup", Content: "<html></html>"},
			expected: LoginRedirect,
		},
		{
			name:     "CVF challenge URL",
			sig:      PageSignal{URL: "https://www.amazon.com/ap/cvf/request", Content: ""},
			expected: LoginRedirect,
		},
		{
			name:     "Captcha interstitial URL",
			sig:      PageSignal{URL: "https://www.amazon.com/errors/validatecaptcha", Content: ""},
			expected: Captcha,
		},
		{
			name:     "Captcha form marker",
			sig:      PageSignal{URL: "https://www.amazon.com/s?k=bags", Content: `<input id="captchacharacters" />`},
			expected: Captcha,
		},
		{
			name:     "Robot check prose",
			sig:      PageSignal{URL: "https://www.amazon.com/s?k=bags", Content: "Enter the characters you see below"},
			expected: Captcha,
		},
		{
			name:     "Two factor form",
			sig:      PageSignal{URL: "https://www.amazon.com/ap/mfa", Content: `<form id="auth-mfa-form">`},
			expected: TwoFactor,
		},
		{
			name:     "OTP field",
			sig:      PageSignal{URL: "https://www.amazon.com/verify", Content: `<input name="otpCode">`},
			expected: TwoFactor,
		},
		{
			name:     "Soft block error page",
			sig:      PageSignal{URL: "https://www.amazon.com/product-reviews/B00X/", Title: "Sorry! Something went wrong!", Content: "<html>Sorry! Something went wrong</html>"},
			expected: SoftBlock,
		},
		{
			name:     "Throttled response body",
			sig:      PageSignal{URL: "https://www.amazon.com/s?k=bags", Content: "Request was throttled. Please wait a moment."},
			expected: SoftBlock,
		},
		{
			name:     "Empty page is normal",
			sig:      PageSignal{URL: "https://www.amazon.com", Content: ""},
			expected: Normal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.sig)
			assert.Equal(t, tt.expected, res.Kind)
			if tt.expected != Normal {
				assert.NotEmpty(t, res.Signature)
			}
		})
	}
}

// A page can carry several markers at once; the order is fixed so the
// result is unambiguous.
func TestClassifyPrecedence(t *testing.T) {
	sig := PageSignal{
		URL:     "https://www.amazon.com/ap/signin?arb=123",
		Content: `<input id="captchacharacters" /><form id="auth-mfa-form">`,
	}
	res := Classify(sig)
	assert.Equal(t, LoginRedirect, res.Kind)

	sig.URL = "https://www.amazon.com/product-reviews/B00X/"
	res = Classify(sig)
	assert.Equal(t, Captcha, res.Kind)

	sig.Content = `<form id="auth-mfa-form">Sorry! Something went wrong`
	res = Classify(sig)
	assert.Equal(t, TwoFactor, res.Kind)
}

func TestKindInterrupting(t *testing.T) {
	assert.True(t, Captcha.Interrupting())
	assert.True(t, TwoFactor.Interrupting())
	assert.True(t, LoginRedirect.Interrupting())
	assert.False(t, SoftBlock.Interrupting())
	assert.False(t, Normal.Interrupting())
}
