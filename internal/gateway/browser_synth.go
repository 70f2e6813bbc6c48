package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/caption-gateway/internal/tts"
)

// BrowserSynthesizer speaks through the browser's speech synthesis. The
// browser reports completion with speech_end or speech_error.
type BrowserSynthesizer struct {
	send SendFunc

	mu      sync.Mutex
	voices  []tts.Voice
	pending map[string]func(error)
	closed  bool
}

// NewBrowserSynthesizer creates a synthesizer offering voices
func NewBrowserSynthesizer(send SendFunc, voices []tts.Voice) *BrowserSynthesizer {
	return &BrowserSynthesizer{
		send:    send,
		voices:  append([]tts.Voice(nil), voices...),
		pending: make(map[string]func(error)),
	}
}

// SetVoices replaces the voice list, which browsers load asynchronously
func (b *BrowserSynthesizer) SetVoices(voices []tts.Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append([]tts.Voice(nil), voices...)
}

func (b *BrowserSynthesizer) Voices() []tts.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tts.Voice(nil), b.voices...)
}

func (b *BrowserSynthesizer) Speak(ctx context.Context, u tts.Utterance, done func(error)) error {
	if u.Text == "" {
		return tts.ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return tts.ErrSynthesizerClosed
	}
	if done != nil {
		b.pending[u.ID] = done
	}
	b.mu.Unlock()

	if err := b.send(speakMessage(u)); err != nil {
		b.mu.Lock()
		delete(b.pending, u.ID)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Finished completes an utterance reported by the browser. Unknown or
// already cancelled ids are ignored.
func (b *BrowserSynthesizer) Finished(utteranceID, errMsg string) {
	b.mu.Lock()
	done, ok := b.pending[utteranceID]
	delete(b.pending, utteranceID)
	b.mu.Unlock()

	if !ok {
		return
	}

	var err error
	switch errMsg {
	case "":
	case "canceled", "interrupted":
		err = tts.ErrSpeechCanceled
	default:
		err = errors.New("speech synthesis error: " + errMsg)
	}
	done(err)
}

// CancelAll tells the browser to stop speaking and completes every pending
// utterance as cancelled without waiting for the browser
func (b *BrowserSynthesizer) CancelAll() {
	dones := b.takePending()
	_ = b.send(ServerMessage{Type: MsgCancelSpeech})
	for _, done := range dones {
		done(tts.ErrSpeechCanceled)
	}
}

// Close cancels pending utterances; later Speak calls fail
func (b *BrowserSynthesizer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	for _, done := range b.takePending() {
		done(tts.ErrSpeechCanceled)
	}
}

// Pending returns the number of utterances awaiting completion
func (b *BrowserSynthesizer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BrowserSynthesizer) takePending() []func(error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dones := make([]func(error), 0, len(b.pending))
	for id, done := range b.pending {
		dones = append(dones, done)
		delete(b.pending, id)
	}
	return dones
}
