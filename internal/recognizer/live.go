package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/translate"
)

// Live recognizes speech through an stt.Engine and restarts the engine when
// a session ends unexpectedly.
type Live struct {
	engine stt.Engine
	opts   Options
	logger zerolog.Logger
	policy *resilience.RestartPolicy

	// publishMu orders deliveries to onResult
	publishMu sync.Mutex

	mu         sync.Mutex
	active     bool
	session    uint64
	ctx        context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	onResult   ResultFunc
	translator Translator
	from, to   string

	committed      string
	interim        string
	translation    string
	lastTranslated string
	lastRequestAt  time.Time
	seq            uint64
	appliedSeq     uint64
	lastError      string
	lastEmitted    TranscriptResult
	emitted        bool

	debounceTimer *time.Timer
	restartTimer  *time.Timer
}

// NewLive creates a live recognizer
func NewLive(engine stt.Engine, opts Options) *Live {
	opts = opts.withDefaults()

	logger := observability.WithComponent("recognizer")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Live{
		engine: engine,
		opts:   opts,
		logger: logger,
		policy: resilience.NewRestartPolicy(opts.RestartMaxAttempts, opts.RestartBaseDelay),
	}
}

// Start begins a recognition session
func (l *Live) Start(ctx context.Context, onResult ResultFunc, from, to string, tr Translator) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrAlreadyActive
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	l.active = true
	l.session++
	session := l.session
	l.ctx = sessionCtx
	l.cancel = cancel
	l.onResult = onResult
	l.translator = tr
	l.from = from
	l.to = to
	l.resetTranscriptLocked()
	l.policy.Success()
	l.mu.Unlock()

	l.drainEvents()

	if err := l.engine.Start(sessionCtx, stt.LanguageTag(from)); err != nil {
		l.mu.Lock()
		if l.session == session {
			l.active = false
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel()
		return fmt.Errorf("start recognition engine: %w", err)
	}

	observability.RecordRecordingStart()
	l.logger.Info().Str("from", from).Str("to", to).Msg("Recognition started")

	done := make(chan struct{})
	l.mu.Lock()
	if l.session != session {
		// stopped while the engine was starting
		l.mu.Unlock()
		return nil
	}
	l.loopDone = done
	l.mu.Unlock()

	go l.loop(sessionCtx, session, done)
	return nil
}

// Stop ends the session, cancels timers and in-flight translations, and
// clears the transcript. It returns once the event loop has exited, so a
// recognizer started next on the same engine sees every new event. Stop
// must not be called from the result callback.
func (l *Live) Stop() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.deactivateLocked()
	l.resetTranscriptLocked()
	done := l.loopDone
	l.loopDone = nil
	l.mu.Unlock()

	if done != nil {
		<-done
	}

	if err := l.engine.Stop(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to stop recognition engine")
	}
	l.logger.Info().Msg("Recognition stopped")
}

// IsActive reports whether a session is running
func (l *Live) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// RestartAttempts returns the consecutive restart attempts used
func (l *Live) RestartAttempts() int {
	return l.policy.Attempts()
}

func (l *Live) deactivateLocked() {
	l.active = false
	l.session++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.debounceTimer != nil {
		l.debounceTimer.Stop()
		l.debounceTimer = nil
	}
	if l.restartTimer != nil {
		l.restartTimer.Stop()
		l.restartTimer = nil
	}
}

func (l *Live) resetTranscriptLocked() {
	l.committed = ""
	l.interim = ""
	l.translation = ""
	l.lastTranslated = ""
	l.lastRequestAt = time.Time{}
	l.seq = 0
	l.appliedSeq = 0
	l.lastError = ""
	l.lastEmitted = TranscriptResult{}
	l.emitted = false
}

// drainEvents discards events left over from a previous session
func (l *Live) drainEvents() {
	for {
		select {
		case <-l.engine.Events():
		default:
			return
		}
	}
}

func (l *Live) loop(ctx context.Context, session uint64, done chan struct{}) {
	defer close(done)

	events := l.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			l.handleEvent(session, ev)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (l *Live) handleEvent(session uint64, ev stt.Event) {
	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}

	switch ev.Type {
	case stt.EventResult:
		l.policy.Success()
		l.lastError = ""
		if l.applyResultsLocked(ev) {
			l.scheduleTranslationLocked()
		}
		l.mu.Unlock()
		l.publish(session)

	case stt.EventSpeechStart, stt.EventAudioStart:
		l.policy.Success()
		l.mu.Unlock()

	case stt.EventError:
		l.lastError = ev.ErrorCode
		onError := l.opts.OnError
		l.mu.Unlock()

		observability.RecordRecognizerError(ev.ErrorCode)
		switch ev.ErrorCode {
		case stt.ErrorNoSpeech, stt.ErrorAborted:
			l.logger.Debug().Str("code", ev.ErrorCode).Msg("Recognition error")
		case stt.ErrorNotAllowed, stt.ErrorServiceNotAllowed:
			l.logger.Warn().Str("code", ev.ErrorCode).Msg("Microphone permission denied")
			if onError != nil {
				onError(ev.ErrorCode)
			}
		default:
			l.logger.Warn().Str("code", ev.ErrorCode).Msg("Recognition error")
		}

	case stt.EventEnd:
		l.handleEndLocked(session)

	default:
		l.mu.Unlock()
	}
}

// applyResultsLocked folds a result event into the transcript and reports
// whether new final speech was committed
func (l *Live) applyResultsLocked(ev stt.Event) bool {
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}

	var interim string
	committedNew := false
	for i := start; i < len(ev.Results); i++ {
		seg := ev.Results[i]
		text := strings.TrimSpace(seg.Transcript)
		if text == "" {
			continue
		}
		if seg.IsFinal {
			l.committed = joinText(l.committed, text)
			committedNew = true
		} else {
			interim = joinText(interim, text)
		}
	}
	l.interim = interim
	return committedNew
}

// scheduleTranslationLocked requests a translation of the committed
// transcript, deferring it when the previous request was too recent
func (l *Live) scheduleTranslationLocked() {
	if l.translator == nil || l.committed == l.lastTranslated {
		return
	}

	if !l.lastRequestAt.IsZero() && time.Since(l.lastRequestAt) < l.opts.DebounceInterval {
		if l.debounceTimer != nil {
			l.debounceTimer.Stop()
		}
		session := l.session
		l.debounceTimer = time.AfterFunc(l.opts.DebounceInterval, func() {
			l.fireDebounced(session)
		})
		return
	}

	l.requestTranslationLocked(l.committed)
}

func (l *Live) fireDebounced(session uint64) {
	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}
	l.debounceTimer = nil
	if l.committed != l.lastTranslated {
		l.requestTranslationLocked(l.committed)
	}
	l.mu.Unlock()

	l.publish(session)
}

func (l *Live) requestTranslationLocked(text string) {
	l.lastTranslated = text
	l.lastRequestAt = time.Now()
	l.seq++

	go l.runTranslation(l.ctx, l.session, l.seq, translate.Request{Text: text, From: l.from, To: l.to}, l.translator)
}

func (l *Live) runTranslation(ctx context.Context, session, seq uint64, req translate.Request, tr Translator) {
	result := tr.Translate(ctx, req)
	if ctx.Err() != nil {
		return
	}

	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}
	if seq <= l.appliedSeq {
		l.mu.Unlock()
		l.logger.Debug().Uint64("seq", seq).Msg("Discarding stale translation")
		return
	}
	l.appliedSeq = seq
	l.translation = result
	l.mu.Unlock()

	l.publish(session)
}

func (l *Live) pendingLocked() bool {
	return l.seq > l.appliedSeq || l.debounceTimer != nil
}

func (l *Live) snapshotLocked() TranscriptResult {
	translation := l.translation
	if l.pendingLocked() {
		translation = translate.PendingText
	}
	return TranscriptResult{
		Transcript:  l.committed,
		Interim:     l.interim,
		Translation: translation,
	}
}

// publish delivers the current state to onResult unless it is unchanged
func (l *Live) publish(session uint64) {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}
	snap := l.snapshotLocked()
	if l.emitted && snap == l.lastEmitted {
		l.mu.Unlock()
		return
	}
	l.lastEmitted = snap
	l.emitted = true
	onResult := l.onResult
	l.mu.Unlock()

	if onResult != nil {
		onResult(snap)
	}
}

// handleEndLocked decides whether an engine session end is restarted.
// Called with l.mu held; releases it.
func (l *Live) handleEndLocked(session uint64) {
	code := l.lastError
	l.lastError = ""

	var reason string
	switch code {
	case "", stt.ErrorNoSpeech, stt.ErrorNetwork, stt.ErrorAudioCapture:
		delay, attempt, ok := l.policy.Next()
		if ok {
			if code == stt.ErrorNoSpeech {
				delay = l.opts.NoSpeechDelay
			}
			l.restartTimer = time.AfterFunc(delay, func() {
				l.restart(session)
			})
			l.mu.Unlock()

			if code == "" {
				code = "end"
			}
			observability.RecordRecognizerRestart(code)
			l.logger.Info().
				Str("reason", code).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Scheduling recognition restart")
			return
		}
		reason = "max restart attempts reached"
	case stt.ErrorAborted:
		reason = "aborted"
	default:
		reason = code
	}

	l.deactivateLocked()
	onStopped := l.opts.OnStopped
	l.mu.Unlock()

	l.logger.Info().Str("reason", reason).Msg("Recognition ended")
	if onStopped != nil {
		onStopped(reason)
	}
}

func (l *Live) restart(session uint64) {
	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}
	l.restartTimer = nil
	ctx := l.ctx
	lang := stt.LanguageTag(l.from)
	l.mu.Unlock()

	err := l.engine.Start(ctx, lang)
	if err == nil {
		return
	}

	l.logger.Warn().Err(err).Msg("Recognition restart failed")

	l.mu.Lock()
	if !l.active || l.session != session {
		l.mu.Unlock()
		return
	}
	l.lastError = stt.ErrorNetwork
	l.handleEndLocked(session)
}
