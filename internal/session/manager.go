// Package session keeps the microphone and speech playback of one client
// mutually exclusive. Every playback, whichever panel starts it, pauses
// recognition; recognition resumes once the last playback ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/playback"
	"github.com/lexiqai/caption-gateway/internal/recognizer"
	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

// Default timings
const (
	DefaultRestartDelay = 100 * time.Millisecond
	DefaultMicGuard     = 2 * time.Second
)

// ErrClosed is returned by operations on a closed manager
var ErrClosed = errors.New("session closed")

// Snapshot is published on every transition
type Snapshot struct {
	State        State
	Recording    bool
	AudioPlaying bool
	ActiveAudio  int
	From         string
	To           string
	AutoSpeak    bool
}

// RecognizerFactory builds a recognizer for one recording session. The
// manager fills in the lifecycle hooks of opts.
type RecognizerFactory func(opts recognizer.Options) recognizer.Recognizer

// Options wires a Manager
type Options struct {
	NewRecognizer RecognizerFactory
	Translator    recognizer.Translator
	Synthesizer   tts.Synthesizer
	Voices        *tts.VoicePreferences

	From           string
	To             string
	AutoSpeak      bool
	SilenceTimeout time.Duration

	OnResult          func(recognizer.TranscriptResult)
	OnState           func(Snapshot)
	OnClearTranscript func()
	OnAlert           func(message string)

	RestartDelay   time.Duration
	MicGuard       time.Duration
	ManualGuard    time.Duration
	StabilizeDelay time.Duration
	Logger         *zerolog.Logger
}

// Manager is the per-client state machine. It owns the active recognizer,
// the auto-play controller and the active audio counter.
type Manager struct {
	opts     Options
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	playback *playback.Controller
	voices   *tts.VoicePreferences

	// publishMu orders state and playback notifications
	publishMu sync.Mutex

	mu           sync.Mutex
	state        State
	activeAudio  int
	rec          recognizer.Recognizer
	recToken     uint64
	from, to     string
	autoSpeak    bool
	timeout      time.Duration
	transcript   string
	translation  string
	micClickedAt time.Time
	restartTimer *time.Timer
	closed       bool
}

// New creates a manager in the Idle state
func New(ctx context.Context, opts Options) *Manager {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.MicGuard <= 0 {
		opts.MicGuard = DefaultMicGuard
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = playback.DefaultTimeout
	}
	if opts.Voices == nil {
		opts.Voices = tts.NewVoicePreferences()
	}

	logger := observability.WithComponent("session")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		voices:    opts.Voices,
		state:     Idle,
		from:      opts.From,
		to:        opts.To,
		autoSpeak: opts.AutoSpeak,
		timeout:   opts.SilenceTimeout,
	}

	m.playback = playback.New(playback.Options{
		Synthesizer:       opts.Synthesizer,
		Voices:            opts.Voices,
		OnAudioStart:      m.autoPlayStarted,
		OnAudioEnd:        m.autoPlayEnded,
		OnClearTranscript: m.clearTranscript,
		ManualGuard:       opts.ManualGuard,
		StabilizeDelay:    opts.StabilizeDelay,
		Logger:            opts.Logger,
	})

	return m
}

// Snapshot returns the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:        m.state,
		Recording:    m.state == Recording,
		AudioPlaying: m.activeAudio > 0,
		ActiveAudio:  m.activeAudio,
		From:         m.from,
		To:           m.to,
		AutoSpeak:    m.autoSpeak,
	}
}

// transitionLocked applies t and reports whether the state changed
func (m *Manager) transitionLocked(t Trigger) bool {
	next, ok := Next(m.state, t)
	if !ok || next == m.state {
		return false
	}
	m.logger.Debug().
		Str("from", m.state.String()).
		Str("to", next.String()).
		Str("trigger", t.String()).
		Msg("Session transition")
	m.state = next
	return true
}

// MicClicked handles the microphone button. It always wins over playback:
// speech is cancelled, the audio counter is zeroed, pending auto-play is
// dropped and recognition toggles immediately.
func (m *Manager) MicClicked() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.micClickedAt = time.Now()
	m.mu.Unlock()

	m.playback.CancelPending()
	m.playback.NoteManualAction()
	m.opts.Synthesizer.CancelAll()

	m.mu.Lock()
	m.activeAudio = 0
	m.stopRestartTimerLocked()

	var stopRec recognizer.Recognizer
	startRec := false
	switch m.state {
	case Recording:
		stopRec = m.detachRecognizerLocked()
	default:
		startRec = true
	}
	m.transitionLocked(TriggerMicClick)
	m.mu.Unlock()

	if stopRec != nil {
		stopRec.Stop()
	}

	var err error
	if startRec {
		err = m.startRecognition()
	}

	m.publish()
	return err
}

// PlaybackStarted records a playback from source and pauses recognition
func (m *Manager) PlaybackStarted(source string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.activeAudio++
	m.stopRestartTimerLocked()

	var stopRec recognizer.Recognizer
	if m.state == Recording {
		stopRec = m.detachRecognizerLocked()
	}
	m.transitionLocked(TriggerPlaybackStart)
	count := m.activeAudio
	m.mu.Unlock()

	observability.RecordPlayback(source)
	m.logger.Debug().Str("source", source).Int("active_audio", count).Msg("Playback started")

	if stopRec != nil {
		stopRec.Stop()
	}
	m.publish()
}

// PlaybackEnded records the end of a playback from source. Recognition
// paused for playback resumes shortly after the counter reaches zero.
func (m *Manager) PlaybackEnded(source string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.activeAudio > 0 {
		m.activeAudio--
	}
	count := m.activeAudio

	if count == 0 {
		switch m.state {
		case RecordingPausedForPlayback:
			m.scheduleRestartLocked()
		case Playing:
			m.transitionLocked(TriggerPlaybackDrained)
		}
	}
	m.mu.Unlock()

	m.logger.Debug().Str("source", source).Int("active_audio", count).Msg("Playback ended")
	m.publish()
}

func (m *Manager) scheduleRestartLocked() {
	m.stopRestartTimerLocked()
	m.restartTimer = time.AfterFunc(m.opts.RestartDelay, m.resume)
}

func (m *Manager) stopRestartTimerLocked() {
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
}

// resume restarts recognition paused for playback if nothing is playing
func (m *Manager) resume() {
	m.mu.Lock()
	m.restartTimer = nil
	if m.closed || m.state != RecordingPausedForPlayback || m.activeAudio != 0 {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(TriggerResume)
	m.mu.Unlock()

	if err := m.startRecognition(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to resume recognition after playback")
	}
	m.publish()
}

// startRecognition builds a fresh recognizer and starts it. On failure the
// manager falls back to Idle and alerts the client.
func (m *Manager) startRecognition() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.recToken++
	token := m.recToken
	from, to := m.from, m.to
	m.transcript = ""
	m.translation = ""
	m.mu.Unlock()

	rec := m.opts.NewRecognizer(recognizer.Options{
		OnError: func(code string) {
			m.recognizerError(token, code)
		},
		OnStopped: func(reason string) {
			m.recognizerStopped(token, reason)
		},
		Logger: m.opts.Logger,
	})

	err := rec.Start(m.ctx, func(res recognizer.TranscriptResult) {
		m.handleResult(token, res)
	}, from, to, m.opts.Translator)

	m.mu.Lock()
	superseded := m.closed || token != m.recToken || m.state != Recording
	if err != nil {
		if !superseded {
			m.transitionLocked(TriggerRecognizerStopped)
		}
		m.mu.Unlock()

		m.logger.Warn().Err(err).Msg("Failed to start recognition")
		m.alert(fmt.Sprintf("Could not start speech recognition: %v", err))
		m.publish()
		return err
	}
	if superseded {
		m.mu.Unlock()
		rec.Stop()
		return nil
	}
	m.rec = rec
	m.mu.Unlock()

	return nil
}

func (m *Manager) detachRecognizerLocked() recognizer.Recognizer {
	rec := m.rec
	m.rec = nil
	m.recToken++
	return rec
}

func (m *Manager) handleResult(token uint64, res recognizer.TranscriptResult) {
	m.mu.Lock()
	if token != m.recToken || m.closed {
		m.mu.Unlock()
		return
	}
	m.transcript = res.Display()
	m.translation = res.Translation
	m.mu.Unlock()

	if m.opts.OnResult != nil {
		m.opts.OnResult(res)
	}
	m.publish()
}

func (m *Manager) recognizerError(token uint64, code string) {
	m.mu.Lock()
	current := token == m.recToken
	m.mu.Unlock()
	if !current {
		return
	}
	switch code {
	case stt.ErrorNotAllowed, stt.ErrorServiceNotAllowed:
		m.alert("Microphone access was denied. Allow microphone access and click the microphone to try again.")
	default:
		m.alert(fmt.Sprintf("Speech recognition failed (%s).", code))
	}
}

func (m *Manager) recognizerStopped(token uint64, reason string) {
	m.mu.Lock()
	if token != m.recToken || m.closed {
		m.mu.Unlock()
		return
	}
	m.rec = nil
	m.recToken++
	m.transitionLocked(TriggerRecognizerStopped)
	m.mu.Unlock()

	m.logger.Info().Str("reason", reason).Msg("Recognition ended on its own")
	m.publish()
}

// autoPlayStarted admits an auto-play unless a mic click just happened
func (m *Manager) autoPlayStarted() bool {
	m.mu.Lock()
	raced := !m.micClickedAt.IsZero() && time.Since(m.micClickedAt) < m.opts.MicGuard
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return false
	}
	if raced {
		m.logger.Debug().Msg("Auto-play raced a mic click, skipping")
		return false
	}
	m.PlaybackStarted(tts.PanelAuto)
	return true
}

func (m *Manager) autoPlayEnded() {
	m.PlaybackEnded(tts.PanelAuto)
}

func (m *Manager) clearTranscript() {
	if m.opts.OnClearTranscript != nil {
		m.opts.OnClearTranscript()
	}
}

// ChangeLanguage switches languages, restarting recognition when it was
// running. Manual voice choices are dropped for panels whose language
// changed.
func (m *Manager) ChangeLanguage(from, to string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if from == m.from && to == m.to {
		m.mu.Unlock()
		return nil
	}
	m.from = from
	m.to = to
	m.transcript = ""
	m.translation = ""

	var stopRec recognizer.Recognizer
	restart := m.state == Recording
	if restart {
		stopRec = m.detachRecognizerLocked()
	}
	m.mu.Unlock()

	m.voices.LanguageChanged(tts.PanelLeft, from)
	m.voices.LanguageChanged(tts.PanelRight, to)
	m.voices.LanguageChanged(tts.PanelAuto, to)

	if stopRec != nil {
		stopRec.Stop()
	}
	m.clearTranscript()

	var err error
	if restart {
		err = m.startRecognition()
	}
	m.publish()
	return err
}

// SetAutoSpeak enables or disables auto-play
func (m *Manager) SetAutoSpeak(enabled bool) {
	m.mu.Lock()
	m.autoSpeak = enabled
	m.mu.Unlock()

	if !enabled {
		m.playback.CancelPending()
	}
	m.publish()
}

// SetSilenceTimeout changes the auto-play silence timeout
func (m *Manager) SetSilenceTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	m.publish()
}

// SelectVoice records a manual voice for panel
func (m *Manager) SelectVoice(panel, voiceName string) {
	m.mu.Lock()
	lang := m.to
	if panel == tts.PanelLeft {
		lang = m.from
	}
	m.mu.Unlock()

	m.voices.Set(panel, voiceName, lang)
}

// SpeakPanel speaks text from a panel button. It counts as playback like
// any other source.
func (m *Manager) SpeakPanel(panel, text string) error {
	clean := tts.CleanText(text)
	if clean == "" {
		return tts.ErrEmptyText
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	lang := m.to
	if panel == tts.PanelLeft {
		lang = m.from
	}
	m.mu.Unlock()

	m.playback.CancelPending()
	synth := m.opts.Synthesizer
	synth.CancelAll()

	utterance := tts.Utterance{
		ID:     uuid.New().String(),
		Text:   clean,
		Lang:   lang,
		Source: panel,
	}
	if voice, ok := m.voices.Resolve(panel, lang, synth.Voices()); ok {
		utterance.Voice = &voice
	}

	m.PlaybackStarted(panel)
	err := synth.Speak(m.ctx, utterance, func(err error) {
		if err != nil && !errors.Is(err, tts.ErrSpeechCanceled) {
			m.logger.Warn().Err(err).Str("panel", panel).Msg("Panel speech failed")
		}
		m.PlaybackEnded(panel)
	})
	if err != nil {
		m.PlaybackEnded(panel)
		return fmt.Errorf("speak %s panel: %w", panel, err)
	}
	return nil
}

// Close stops recognition, playback and timers
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRestartTimerLocked()
	rec := m.detachRecognizerLocked()
	m.state = Idle
	m.activeAudio = 0
	m.mu.Unlock()

	m.playback.Close()
	if rec != nil {
		rec.Stop()
	}
	m.opts.Synthesizer.CancelAll()
	m.cancel()
}

// publish sends the state snapshot and refreshes the auto-play controller
func (m *Manager) publish() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	input := playback.State{
		Transcript:   m.transcript,
		Translation:  m.translation,
		AutoSpeak:    m.autoSpeak,
		AudioPlaying: m.activeAudio > 0,
		TargetLang:   m.to,
		Timeout:      m.timeout,
	}
	m.mu.Unlock()

	if m.opts.OnState != nil {
		m.opts.OnState(snap)
	}
	m.playback.Update(input)
}

func (m *Manager) alert(message string) {
	if m.opts.OnAlert != nil {
		m.opts.OnAlert(message)
	}
}
