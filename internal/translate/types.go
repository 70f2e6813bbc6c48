// Package translate calls remote machine-translation backends with ordered
// fallback. Translate never fails: every failure collapses into a tagged
// marker string carrying the original text.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PendingText is shown in place of a translation while one is in flight
const PendingText = "Translating…"

// Provider identifiers, matching config.Provider* values
const (
	ProviderAuto           = "auto"
	ProviderOpenAI         = "openai"
	ProviderMyMemory       = "mymemory"
	ProviderLibreTranslate = "libretranslate"
	ProviderGemini         = "gemini"
)

var (
	// ErrMissingAPIKey is returned by keyed providers before any network call
	ErrMissingAPIKey = errors.New("api key not configured")
	// ErrQuotaExceeded marks quota and rate-limit rejections
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrEmptyTranslation marks a well-formed response with no text
	ErrEmptyTranslation = errors.New("empty translation in response")
)

// Request is one translation call
type Request struct {
	Text string
	From string
	To   string
}

// Provider is a single remote translation backend
type Provider interface {
	// Name returns the provider identifier (openai, mymemory, ...)
	Name() string

	// Translate returns the translated text or an error
	Translate(ctx context.Context, req Request) (string, error)
}

// StatusError reports a non-2xx response from a provider
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(body))
}

// IsQuotaError reports whether err is a quota or rate-limit class failure
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 {
			return true
		}
		body := strings.ToLower(statusErr.Body)
		return strings.Contains(body, "insufficient_quota") || strings.Contains(body, "rate limit")
	}
	return false
}

// DisplayName returns the human-readable provider name used in markers
func DisplayName(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderMyMemory:
		return "MyMemory"
	case ProviderLibreTranslate:
		return "LibreTranslate"
	case ProviderGemini:
		return "Gemini"
	}
	return provider
}

// FailedMarker wraps text in a provider-specific failure tag
func FailedMarker(provider, text string) string {
	return "[" + DisplayName(provider) + " failed] " + text
}

// UnavailableMarker wraps text in the generic failure tag used by auto mode
func UnavailableMarker(text string) string {
	return "[Translation unavailable] " + text
}

// IsMarker reports whether s is a failure marker rather than a translation
func IsMarker(s string) bool {
	if !strings.HasPrefix(s, "[") {
		return false
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return false
	}
	tag := s[1:end]
	return strings.HasSuffix(tag, " failed") || tag == "Translation unavailable"
}

// IsPlaceholder reports whether s is empty, pending or a failure marker
func IsPlaceholder(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == PendingText || IsMarker(s)
}
