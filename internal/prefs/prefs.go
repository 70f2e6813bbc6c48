// Package prefs stores per-client settings across connections.
package prefs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lexiqai/caption-gateway/internal/config"
)

// ErrInvalidClientID is returned for an empty client id
var ErrInvalidClientID = errors.New("client id is required")

// Preferences are the settings a client may persist. Zero values mean
// "use the server default".
type Preferences struct {
	Provider             string            `json:"provider,omitempty"`
	OpenAIAPIKey         string            `json:"openai_api_key,omitempty"`
	GeminiAPIKey         string            `json:"gemini_api_key,omitempty"`
	LibreTranslateAPIKey string            `json:"libretranslate_api_key,omitempty"`
	AutoSpeak            *bool             `json:"auto_speak,omitempty"`
	SilenceTimeoutMs     int               `json:"silence_timeout_ms,omitempty"`
	Voices               map[string]string `json:"voices,omitempty"` // panel -> voice name
	From                 string            `json:"from,omitempty"`
	To                   string            `json:"to,omitempty"`
}

// Store persists Preferences by client id. Get returns empty preferences
// for an unknown client.
type Store interface {
	Get(ctx context.Context, clientID string) (Preferences, error)
	Save(ctx context.Context, clientID string, p Preferences) error
	Ping(ctx context.Context) error
	Close() error
}

// Merge overlays the non-zero fields of update onto p
func (p Preferences) Merge(update Preferences) Preferences {
	if update.Provider != "" {
		p.Provider = update.Provider
	}
	if update.OpenAIAPIKey != "" {
		p.OpenAIAPIKey = update.OpenAIAPIKey
	}
	if update.GeminiAPIKey != "" {
		p.GeminiAPIKey = update.GeminiAPIKey
	}
	if update.LibreTranslateAPIKey != "" {
		p.LibreTranslateAPIKey = update.LibreTranslateAPIKey
	}
	if update.AutoSpeak != nil {
		v := *update.AutoSpeak
		p.AutoSpeak = &v
	}
	if update.SilenceTimeoutMs > 0 {
		p.SilenceTimeoutMs = update.SilenceTimeoutMs
	}
	if update.From != "" {
		p.From = update.From
	}
	if update.To != "" {
		p.To = update.To
	}
	if len(update.Voices) > 0 {
		voices := make(map[string]string, len(p.Voices)+len(update.Voices))
		for panel, name := range p.Voices {
			voices[panel] = name
		}
		for panel, name := range update.Voices {
			if name == "" {
				delete(voices, panel)
				continue
			}
			voices[panel] = name
		}
		p.Voices = voices
	}
	return p
}

// Normalize lowercases the provider, drops unknown providers and clamps the
// silence timeout
func (p Preferences) Normalize() Preferences {
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	if p.Provider != "" && !config.IsValidProvider(p.Provider) {
		p.Provider = ""
	}
	if p.SilenceTimeoutMs != 0 {
		p.SilenceTimeoutMs = config.ClampSilenceTimeout(p.SilenceTimeoutMs)
	}
	return p
}

// SilenceTimeout returns the stored timeout or fallback when unset
func (p Preferences) SilenceTimeout(fallback time.Duration) time.Duration {
	if p.SilenceTimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(p.SilenceTimeoutMs) * time.Millisecond
}

// AutoSpeakOr returns the stored auto-speak flag or fallback when unset
func (p Preferences) AutoSpeakOr(fallback bool) bool {
	if p.AutoSpeak == nil {
		return fallback
	}
	return *p.AutoSpeak
}
