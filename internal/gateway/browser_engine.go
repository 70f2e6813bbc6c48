package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/stt"
)

// SendFunc queues a message for the browser
type SendFunc func(ServerMessage) error

// BrowserEngine is a recognition engine run by the browser's Web Speech
// API. Start and Stop become commands to the client; the events it forwards
// come back through Deliver. Each Start opens a numbered session so that
// events of an earlier session arriving late are dropped.
type BrowserEngine struct {
	send   SendFunc
	events chan stt.Event
	logger zerolog.Logger

	mu      sync.Mutex
	session uint64
	active  bool
	closed  bool
}

// NewBrowserEngine creates an engine commanding the client through send
func NewBrowserEngine(send SendFunc, logger zerolog.Logger) *BrowserEngine {
	return &BrowserEngine{
		send:   send,
		events: make(chan stt.Event, 100),
		logger: logger,
	}
}

// Events returns the forwarded event stream
func (b *BrowserEngine) Events() <-chan stt.Event {
	return b.events
}

// Start asks the browser to begin recognizing lang
func (b *BrowserEngine) Start(ctx context.Context, lang string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return stt.ErrEngineClosed
	}
	b.session++
	b.active = true
	session := b.session
	b.mu.Unlock()

	err := b.send(ServerMessage{Type: MsgStartRecognition, Session: session, Lang: lang})
	if err != nil {
		b.mu.Lock()
		if b.session == session {
			b.active = false
		}
		b.mu.Unlock()
	}
	return err
}

// Stop asks the browser to stop the current session
func (b *BrowserEngine) Stop() error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil
	}
	b.active = false
	session := b.session
	b.mu.Unlock()

	return b.send(ServerMessage{Type: MsgStopRecognition, Session: session})
}

// Close stops the engine; later Starts fail
func (b *BrowserEngine) Close() error {
	err := b.Stop()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return err
}

// Deliver passes an event of the given session to the recognizer. Events
// for other sessions, or arriving while stopped, are dropped.
func (b *BrowserEngine) Deliver(session uint64, ev stt.Event) bool {
	b.mu.Lock()
	if !b.active || session != b.session {
		b.mu.Unlock()
		b.logger.Debug().
			Uint64("session", session).
			Str("event", ev.Type.String()).
			Msg("Dropping recognition event from an inactive session")
		return false
	}
	if ev.Type == stt.EventEnd {
		b.active = false
	}
	b.mu.Unlock()

	select {
	case b.events <- ev:
		return true
	default:
		b.logger.Warn().Str("event", ev.Type.String()).Msg("Recognition event queue full, dropping event")
		return false
	}
}
