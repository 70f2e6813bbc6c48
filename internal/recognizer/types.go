// Package recognizer turns engine events into a growing transcript with a
// debounced live translation. Two implementations share the Recognizer
// contract: Live drives a speech engine, Demo replays a canned script.
package recognizer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/translate"
)

// ErrAlreadyActive is returned by Start while a session is running
var ErrAlreadyActive = errors.New("recognizer already active")

// TranscriptResult is emitted on every recognition update. Transcript holds
// committed speech and only grows within a session; Interim is the phrase
// still being recognized and is shown after the transcript.
type TranscriptResult struct {
	Transcript  string
	Interim     string
	Translation string
}

// Display returns the transcript followed by any interim speech
func (r TranscriptResult) Display() string {
	return joinText(r.Transcript, r.Interim)
}

// ResultFunc receives recognizer updates
type ResultFunc func(TranscriptResult)

// Translator translates committed transcript text. It never fails;
// failures come back as marker strings.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) string
}

// TranslatorFunc adapts a function to Translator
type TranslatorFunc func(ctx context.Context, req translate.Request) string

// Translate calls f
func (f TranslatorFunc) Translate(ctx context.Context, req translate.Request) string {
	return f(ctx, req)
}

// Recognizer is a start/stop speech source
type Recognizer interface {
	// Start begins a session translating from one language to another
	Start(ctx context.Context, onResult ResultFunc, from, to string, tr Translator) error

	// Stop ends the session and clears its transcript. Safe to call repeatedly.
	Stop()

	// IsActive reports whether a session is running
	IsActive() bool
}

// Options tunes recognizer timing and hooks. Zero values take defaults.
type Options struct {
	DebounceInterval   time.Duration
	RestartMaxAttempts int
	RestartBaseDelay   time.Duration
	NoSpeechDelay      time.Duration

	DemoInterval time.Duration
	DemoScript   []string

	// OnError receives error codes the user must act on, such as a denied
	// microphone permission
	OnError func(code string)

	// OnStopped is called when a session ends on its own rather than
	// through Stop
	OnStopped func(reason string)

	Logger *zerolog.Logger
}

const (
	defaultDebounceInterval   = 500 * time.Millisecond
	defaultRestartMaxAttempts = 3
	defaultRestartBaseDelay   = time.Second
	defaultNoSpeechDelay      = 2 * time.Second
	defaultDemoInterval       = 2 * time.Second
)

// DefaultDemoScript is replayed by Demo when no script is configured
var DefaultDemoScript = []string{
	"Hello and welcome to the live caption demo.",
	"Speech recognition is not available in this browser.",
	"These sentences are replayed from a fixed script.",
	"Each one is translated as it appears.",
	"Enable a microphone to caption your own voice.",
}

func (o Options) withDefaults() Options {
	if o.DebounceInterval <= 0 {
		o.DebounceInterval = defaultDebounceInterval
	}
	if o.RestartMaxAttempts == 0 {
		o.RestartMaxAttempts = defaultRestartMaxAttempts
	}
	if o.RestartBaseDelay <= 0 {
		o.RestartBaseDelay = defaultRestartBaseDelay
	}
	if o.NoSpeechDelay <= 0 {
		o.NoSpeechDelay = defaultNoSpeechDelay
	}
	if o.DemoInterval <= 0 {
		o.DemoInterval = defaultDemoInterval
	}
	if o.DemoScript == nil {
		o.DemoScript = DefaultDemoScript
	}
	return o
}

func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
