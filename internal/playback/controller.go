// Package playback speaks the current translation once the speaker has
// paused, modelled as the transcript staying unchanged for a timeout.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/translate"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

// Default timings
const (
	DefaultTimeout        = 3 * time.Second
	DefaultManualGuard    = 3 * time.Second
	DefaultStabilizeDelay = 100 * time.Millisecond
)

// State is the controller input, re-sent on every change
type State struct {
	Transcript   string
	Translation  string
	AutoSpeak    bool
	AudioPlaying bool
	TargetLang   string
	Timeout      time.Duration
}

// Options wires the controller to its synthesizer and listeners
type Options struct {
	Synthesizer tts.Synthesizer
	Voices      *tts.VoicePreferences

	// OnAudioStart runs just before an auto-play is spoken. Returning
	// false vetoes it and the translation stays eligible.
	OnAudioStart      func() bool
	OnAudioEnd        func()
	OnClearTranscript func()

	ManualGuard    time.Duration
	StabilizeDelay time.Duration
	Logger         *zerolog.Logger
}

// Controller decides when to auto-play the translation. It owns its timers;
// nothing fires after CancelPending or Close.
type Controller struct {
	opts   Options
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// speakMu spans the final go-ahead and the Speak call, so
	// CancelPending returns either before a play starts or after the
	// synthesizer has it
	speakMu sync.Mutex

	mu             sync.Mutex
	state          State
	lastChange     time.Time
	timer          *time.Timer
	gen            uint64
	inFlight       bool
	spoken         map[string]bool
	micReactivated bool
	manualAt       time.Time
	closed         bool
}

// New creates a controller
func New(opts Options) *Controller {
	if opts.Voices == nil {
		opts.Voices = tts.NewVoicePreferences()
	}
	if opts.ManualGuard <= 0 {
		opts.ManualGuard = DefaultManualGuard
	}
	if opts.StabilizeDelay <= 0 {
		opts.StabilizeDelay = DefaultStabilizeDelay
	}

	logger := observability.WithComponent("playback")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		spoken: make(map[string]bool),
	}
}

// Update feeds the latest state and re-evaluates the timers
func (c *Controller) Update(s State) {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	prev := c.state
	c.state = s

	// silence is measured from the last change even while auto-speak is off
	changed := s.Transcript != prev.Transcript
	if changed {
		c.lastChange = time.Now()
	}

	if !s.AutoSpeak {
		c.stopTimerLocked()
		if prev.AutoSpeak {
			// a new auto-speak period may repeat earlier translations
			c.spoken = make(map[string]bool)
		}
		c.mu.Unlock()
		return
	}

	var clearTranscript bool
	switch {
	case changed:
		if s.Transcript != "" && c.micReactivated {
			c.micReactivated = false
			clearTranscript = true
		}
		c.scheduleLocked(s.Timeout)

	case !prev.AutoSpeak && !c.lastChange.IsZero():
		stable := time.Since(c.lastChange)
		if stable >= s.Timeout {
			c.scheduleLocked(c.opts.StabilizeDelay)
		} else {
			c.scheduleLocked(s.Timeout - stable)
		}

	case c.timer == nil && !c.lastChange.IsZero() && time.Since(c.lastChange) >= s.Timeout:
		if c.blockedLocked() == "" {
			c.scheduleLocked(c.opts.StabilizeDelay)
		}
	}
	c.mu.Unlock()

	if clearTranscript && c.opts.OnClearTranscript != nil {
		c.logger.Debug().Msg("New speech after playback, starting a new utterance group")
		c.opts.OnClearTranscript()
	}
}

// CancelPending drops any scheduled auto-play. An auto-play already past
// its go-ahead has reached the synthesizer when this returns.
func (c *Controller) CancelPending() {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

// NoteManualAction suppresses auto-play for the manual guard window
func (c *Controller) NoteManualAction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualAt = time.Now()
}

// InFlight reports whether an auto-play utterance is playing
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Close stops all timers; later updates are ignored
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopTimerLocked()
	c.cancel()
}

func (c *Controller) stopTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) scheduleLocked(delay time.Duration) {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.fire(gen)
	})
}

// blockedLocked returns the guard that suppresses auto-play, or ""
func (c *Controller) blockedLocked() string {
	s := c.state
	switch {
	case c.closed:
		return "closed"
	case !s.AutoSpeak:
		return "auto-speak disabled"
	case s.AudioPlaying:
		return "audio playing"
	case translate.IsPlaceholder(s.Translation):
		return "no translation"
	case c.inFlight:
		return "auto-play in flight"
	case !c.manualAt.IsZero() && time.Since(c.manualAt) < c.opts.ManualGuard:
		return "manual action"
	case c.spoken[s.Translation]:
		return "already played"
	}
	return ""
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil

	if reason := c.blockedLocked(); reason != "" {
		c.mu.Unlock()
		c.logger.Debug().Str("reason", reason).Msg("Auto-play suppressed")
		return
	}

	s := c.state
	c.inFlight = true
	c.spoken[s.Translation] = true
	c.mu.Unlock()

	synth := c.opts.Synthesizer
	synth.CancelAll()

	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	// CancelAll may have triggered a manual action that dropped this play
	c.mu.Lock()
	dropped := gen != c.gen || c.closed
	c.mu.Unlock()
	if dropped {
		c.release(s.Translation, "cancelled")
		return
	}

	utterance := tts.Utterance{
		ID:     uuid.New().String(),
		Text:   s.Translation,
		Lang:   s.TargetLang,
		Source: tts.PanelAuto,
	}
	if voice, ok := c.opts.Voices.Resolve(tts.PanelAuto, s.TargetLang, synth.Voices()); ok {
		utterance.Voice = &voice
	}

	if c.opts.OnAudioStart != nil && !c.opts.OnAudioStart() {
		c.release(s.Translation, "vetoed")
		return
	}

	observability.RecordAutoPlay()
	c.logger.Info().
		Str("utterance_id", utterance.ID).
		Str("lang", s.TargetLang).
		Msg("Auto-playing translation")

	if err := synth.Speak(c.ctx, utterance, c.finished); err != nil {
		c.finished(err)
	}
}

// release undoes the go-ahead for a play that never reached the synthesizer
func (c *Controller) release(translation, reason string) {
	c.mu.Lock()
	c.inFlight = false
	delete(c.spoken, translation)
	c.mu.Unlock()

	c.logger.Debug().Str("reason", reason).Msg("Auto-play dropped before speaking")
}

func (c *Controller) finished(err error) {
	if err != nil && err != tts.ErrSpeechCanceled {
		c.logger.Warn().Err(err).Msg("Auto-play failed")
	}

	c.mu.Lock()
	c.inFlight = false
	c.micReactivated = true
	c.mu.Unlock()

	if c.opts.OnAudioEnd != nil {
		c.opts.OnAudioEnd()
	}
}
