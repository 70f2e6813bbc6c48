// Package tts selects synthesis voices and speaks translations, either by
// commanding the browser's speech synthesis or through Cartesia.
package tts

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
)

var (
	// ErrSpeechCanceled is passed to done when an utterance is cancelled
	ErrSpeechCanceled = errors.New("speech canceled")
	// ErrSynthesizerClosed is returned by Speak after Close
	ErrSynthesizerClosed = errors.New("synthesizer closed")
	// ErrEmptyText is returned by Speak when nothing is left to say after cleaning
	ErrEmptyText = errors.New("nothing to speak")
)

// Playback sources. Panels double as voice preference keys.
const (
	PanelLeft  = "left"
	PanelRight = "right"
	PanelAuto  = "auto"
)

// Voice is one synthesis voice offered by a platform
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is one piece of text to speak
type Utterance struct {
	ID     string
	Text   string
	Lang   string
	Voice  *Voice
	Source string
}

// Synthesizer speaks utterances one at a time.
//
// Speak starts an utterance and returns once it is accepted; done is then
// called exactly once when it finishes, fails, or is cancelled. CancelAll
// stops everything queued or playing.
type Synthesizer interface {
	Voices() []Voice
	Speak(ctx context.Context, u Utterance, done func(error)) error
	CancelAll()
}

var (
	markerPattern     = regexp.MustCompile(`\[[^\]]*(?:failed|unavailable)\]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanText removes failure markers and collapses whitespace
func CleanText(text string) string {
	text = markerPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// doneOnce wraps done so that only the first call goes through
func doneOnce(done func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if done != nil {
				done(err)
			}
		})
	}
}
