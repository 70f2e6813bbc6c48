// Package stt defines the speech recognition engine contract and its
// Deepgram implementation. Engines speak in Web Speech shaped events so
// that browser-side and server-side recognition look the same to callers.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrEngineClosed is returned by engines after Close
var ErrEngineClosed = errors.New("recognition engine closed")

// EventType identifies a recognition event
type EventType int

const (
	EventResult EventType = iota
	EventEnd
	EventError
	EventSpeechStart
	EventAudioStart
)

func (t EventType) String() string {
	switch t {
	case EventResult:
		return "result"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventSpeechStart:
		return "speechstart"
	case EventAudioStart:
		return "audiostart"
	}
	return "unknown"
}

// ParseEventType maps a Web Speech event name to an EventType
func ParseEventType(name string) (EventType, bool) {
	switch strings.ToLower(name) {
	case "result":
		return EventResult, true
	case "end":
		return EventEnd, true
	case "error":
		return EventError, true
	case "speechstart":
		return EventSpeechStart, true
	case "audiostart":
		return EventAudioStart, true
	}
	return 0, false
}

// Error codes reported by engines
const (
	ErrorNoSpeech           = "no-speech"
	ErrorAborted            = "aborted"
	ErrorAudioCapture       = "audio-capture"
	ErrorNetwork            = "network"
	ErrorNotAllowed         = "not-allowed"
	ErrorServiceNotAllowed  = "service-not-allowed"
	ErrorLanguageNotSupport = "language-not-supported"
)

// Segment is one recognized phrase
type Segment struct {
	Transcript string
	IsFinal    bool
}

// Event is a single engine notification. For EventResult, Results holds
// every segment of the current engine session and ResultIndex is the first
// one that changed.
type Event struct {
	Type        EventType
	ResultIndex int
	Results     []Segment
	ErrorCode   string
}

// Engine is a streaming speech recognizer.
//
// Start begins a session in the given language; every session ends with an
// EventEnd. Stop ends the current session. The Events channel lives as long
// as the engine and is never closed; consumers stop reading on their own
// context.
type Engine interface {
	Start(ctx context.Context, lang string) error
	Stop() error
	Events() <-chan Event
	Close() error
}

// LanguageTag maps a short language code to the regional tag engines expect
func LanguageTag(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.EqualFold(lang, "en") {
		return "en-US"
	}
	return lang
}
