package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/audio"
	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/prefs"
	"github.com/lexiqai/caption-gateway/internal/recognizer"
	"github.com/lexiqai/caption-gateway/internal/session"
	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/translate"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

const (
	writeTimeout    = 5 * time.Second
	pongWait        = 60 * time.Second
	pingInterval    = 25 * time.Second
	sendTimeout     = 2 * time.Second
	prefsTimeout    = 2 * time.Second
	outboundBacklog = 256

	defaultFrom = "en"
	defaultTo   = "es"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when the client stops reading
	ErrSendQueueFull = errors.New("send queue full")
)

// Connection holds the state of one browser client: its session manager,
// recognizer engine, synthesizer and translator
type Connection struct {
	conn *websocket.Conn
	deps Dependencies
	cfg  *config.Config

	id     string
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	out       chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.RWMutex
	clientID   string
	prefs      prefs.Preferences
	translator *translate.Client

	browserEngine *BrowserEngine
	deepgram      *stt.DeepgramEngine
	browserSynth  *BrowserSynthesizer
	cartesia      *tts.CartesiaSynthesizer
	manager       *session.Manager
}

func newConnection(conn *websocket.Conn, deps Dependencies, clientID string) *Connection {
	id := observability.NewConnectionID()
	ctx, cancel := context.WithCancel(context.Background())

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "anon-" + id
	}

	return &Connection{
		conn:     conn,
		deps:     deps,
		cfg:      deps.Config,
		id:       id,
		clientID: clientID,
		logger:   observability.ForConnection(id, clientID),
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan ServerMessage, outboundBacklog),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// ClientID returns the client id announced in hello
func (c *Connection) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// setup builds the per-client components from the hello message and the
// stored preferences
func (c *Connection) setup(hello ClientMessage) error {
	clientID := c.clientID

	var caps Capabilities
	if hello.Capabilities != nil {
		caps = *hello.Capabilities
	}

	stored := c.loadPreferences(clientID)
	if stored.From == "" {
		stored.From = defaultFrom
	}
	if stored.To == "" {
		stored.To = defaultTo
	}

	c.mu.Lock()
	c.prefs = stored
	c.translator = c.buildTranslator(stored)
	c.mu.Unlock()

	// engine stays a nil interface when recognition is unavailable so the
	// factory falls back to the demo recognizer
	var engine stt.Engine
	switch {
	case c.cfg.DemoMode:
	case caps.SpeechRecognition:
		c.browserEngine = NewBrowserEngine(c.send, c.logger)
		engine = c.browserEngine
	case c.cfg.DeepgramAPIKey != "":
		c.deepgram = stt.NewDeepgramEngine(stt.DeepgramOptions{
			APIKey:     c.cfg.DeepgramAPIKey,
			Model:      c.cfg.DeepgramModel,
			SampleRate: audio.MicSampleRate,
			BufferSize: c.cfg.AudioBufferSize,
			VAD: &audio.VADConfig{
				EnergyThreshold: c.cfg.VADEnergyThreshold,
				SilenceFrames:   c.cfg.VADSilenceFrames,
				FrameSize:       320,
			},
			Breaker: c.deps.DeepgramBreaker,
			Logger:  &c.logger,
		})
		engine = c.deepgram
	}

	var synth tts.Synthesizer
	if !caps.SpeechSynthesis && c.cfg.CartesiaAPIKey != "" {
		c.cartesia = tts.NewCartesiaSynthesizer(tts.CartesiaOptions{
			APIKey:     c.cfg.CartesiaAPIKey,
			VoiceID:    c.cfg.CartesiaVoiceID,
			ModelID:    c.cfg.CartesiaModelID,
			HTTPClient: c.deps.HTTPClient,
			Retry:      c.deps.Retry,
			Logger:     &c.logger,
		}, c)
		synth = c.cartesia
	} else {
		c.browserSynth = NewBrowserSynthesizer(c.send, hello.Voices)
		synth = c.browserSynth
	}

	voices := tts.NewVoicePreferences()
	for panel, name := range stored.Voices {
		lang := stored.To
		if panel == tts.PanelLeft {
			lang = stored.From
		}
		voices.Set(panel, name, lang)
	}

	recOpts := recognizer.Options{
		RestartMaxAttempts: c.cfg.RestartMaxAttempts,
		RestartBaseDelay:   time.Duration(c.cfg.RestartBaseDelay) * time.Millisecond,
	}

	c.manager = session.New(c.ctx, session.Options{
		NewRecognizer: func(opts recognizer.Options) recognizer.Recognizer {
			opts.RestartMaxAttempts = recOpts.RestartMaxAttempts
			opts.RestartBaseDelay = recOpts.RestartBaseDelay
			return recognizer.New(engine, opts)
		},
		Translator:     c,
		Synthesizer:    synth,
		Voices:         voices,
		From:           stored.From,
		To:             stored.To,
		AutoSpeak:      stored.AutoSpeakOr(c.cfg.AutoSpeak),
		SilenceTimeout: stored.SilenceTimeout(time.Duration(c.cfg.SilenceTimeoutMs) * time.Millisecond),
		OnResult: func(res recognizer.TranscriptResult) {
			_ = c.send(transcriptMessage(res))
		},
		OnState: func(snap session.Snapshot) {
			_ = c.send(stateMessage(snap))
		},
		OnClearTranscript: func() {
			_ = c.send(ServerMessage{Type: MsgClearTranscript})
		},
		OnAlert: func(message string) {
			_ = c.send(alertMessage(message))
		},
		Logger: &c.logger,
	})

	c.logger.Info().
		Bool("browser_recognition", c.browserEngine != nil).
		Bool("server_recognition", c.deepgram != nil).
		Bool("server_synthesis", c.cartesia != nil).
		Str("from", stored.From).
		Str("to", stored.To).
		Msg("Client session ready")

	if err := c.send(ServerMessage{
		Type:              MsgWelcome,
		ClientID:          clientID,
		ServerRecognition: c.deepgram != nil,
		ServerSynthesis:   c.cartesia != nil,
	}); err != nil {
		return err
	}
	return c.send(stateMessage(c.manager.Snapshot()))
}

// Translate implements recognizer.Translator with the client's current
// provider settings
func (c *Connection) Translate(ctx context.Context, req translate.Request) string {
	c.mu.RLock()
	tr := c.translator
	c.mu.RUnlock()
	return tr.Translate(ctx, req)
}

func (c *Connection) buildTranslator(p prefs.Preferences) *translate.Client {
	settings := translate.Settings{
		Provider:             c.cfg.TranslationProvider,
		Timeout:              time.Duration(c.cfg.TranslationTimeout) * time.Second,
		OpenAIAPIKey:         c.cfg.OpenAIAPIKey,
		OpenAIModel:          c.cfg.OpenAIModel,
		OpenAIBaseURL:        c.cfg.OpenAIBaseURL,
		GeminiAPIKey:         c.cfg.GeminiAPIKey,
		GeminiModel:          c.cfg.GeminiModel,
		MyMemoryURL:          c.cfg.MyMemoryURL,
		MyMemoryEmail:        c.cfg.MyMemoryEmail,
		LibreTranslateURL:    c.cfg.LibreTranslateURL,
		LibreTranslateAPIKey: c.cfg.LibreTranslateAPIKey,
	}
	if p.Provider != "" {
		settings.Provider = p.Provider
	}
	if p.OpenAIAPIKey != "" {
		settings.OpenAIAPIKey = p.OpenAIAPIKey
	}
	if p.GeminiAPIKey != "" {
		settings.GeminiAPIKey = p.GeminiAPIKey
	}
	if p.LibreTranslateAPIKey != "" {
		settings.LibreTranslateAPIKey = p.LibreTranslateAPIKey
	}

	opts := []translate.Option{translate.WithLogger(c.logger)}
	if c.deps.HTTPClient != nil {
		opts = append(opts, translate.WithHTTPClient(c.deps.HTTPClient))
	}
	return translate.NewClient(settings, c.deps.Breakers, opts...)
}

func (c *Connection) loadPreferences(clientID string) prefs.Preferences {
	if c.deps.Store == nil {
		return prefs.Preferences{}
	}
	ctx, cancel := context.WithTimeout(c.ctx, prefsTimeout)
	defer cancel()

	p, err := c.deps.Store.Get(ctx, clientID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load preferences, using defaults")
		observability.RecordError("prefs_load_error", "gateway")
		return prefs.Preferences{}
	}
	return p.Normalize()
}

func (c *Connection) savePreferences() {
	if c.deps.Store == nil {
		return
	}
	c.mu.RLock()
	clientID := c.clientID
	p := c.prefs
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.ctx, prefsTimeout)
	defer cancel()

	if err := c.deps.Store.Save(ctx, clientID, p); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save preferences")
		observability.RecordError("prefs_save_error", "gateway")
	}
}

// updatePreferences merges update into the stored preferences, rebuilding
// the translator when provider settings changed
func (c *Connection) updatePreferences(update prefs.Preferences) prefs.Preferences {
	c.mu.Lock()
	p := c.prefs.Merge(update).Normalize()
	rebuild := p.Provider != c.prefs.Provider ||
		p.OpenAIAPIKey != c.prefs.OpenAIAPIKey ||
		p.GeminiAPIKey != c.prefs.GeminiAPIKey ||
		p.LibreTranslateAPIKey != c.prefs.LibreTranslateAPIKey
	c.prefs = p
	if rebuild {
		c.translator = c.buildTranslator(p)
	}
	c.mu.Unlock()

	if rebuild {
		c.logger.Info().Str("provider", p.Provider).Msg("Translation settings changed")
	}
	c.savePreferences()
	return p
}

// readLoop handles client messages until the socket fails or closes
func (c *Connection) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Error().Err(err).Msg("Failed to parse client message")
				_ = c.send(errorMessage("invalid message"))
				continue
			}
			c.handleMessage(msg)
		}
	}
}

func (c *Connection) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MsgMicClick:
		if err := c.manager.MicClicked(); err != nil {
			c.logger.Warn().Err(err).Msg("Mic click failed")
		}

	case MsgSetLanguages:
		from, to := strings.TrimSpace(msg.From), strings.TrimSpace(msg.To)
		if from == "" || to == "" {
			_ = c.send(errorMessage("set_languages requires from and to"))
			return
		}
		if err := c.manager.ChangeLanguage(from, to); err != nil {
			c.logger.Warn().Err(err).Msg("Language change failed")
		}
		c.updatePreferences(prefs.Preferences{From: from, To: to})

	case MsgSetAutoSpeak:
		if msg.Enabled == nil {
			_ = c.send(errorMessage("set_auto_speak requires enabled"))
			return
		}
		c.manager.SetAutoSpeak(*msg.Enabled)
		c.updatePreferences(prefs.Preferences{AutoSpeak: msg.Enabled})

	case MsgSetPreferences:
		if msg.Preferences == nil {
			_ = c.send(errorMessage("set_preferences requires preferences"))
			return
		}
		c.applyPreferences(*msg.Preferences)

	case MsgSelectVoice:
		if !validPanel(msg.Panel) {
			_ = c.send(errorMessage(fmt.Sprintf("unknown panel %q", msg.Panel)))
			return
		}
		c.manager.SelectVoice(msg.Panel, msg.Voice)
		c.updatePreferences(prefs.Preferences{Voices: map[string]string{msg.Panel: msg.Voice}})

	case MsgSpeak:
		if msg.Panel != tts.PanelLeft && msg.Panel != tts.PanelRight {
			_ = c.send(errorMessage(fmt.Sprintf("unknown panel %q", msg.Panel)))
			return
		}
		if err := c.manager.SpeakPanel(msg.Panel, msg.Text); err != nil && !errors.Is(err, tts.ErrEmptyText) {
			c.logger.Warn().Err(err).Str("panel", msg.Panel).Msg("Panel speech failed")
			_ = c.send(errorMessage("could not speak text"))
		}

	case MsgRecognitionEvent:
		if c.browserEngine == nil {
			_ = c.send(errorMessage("recognition is not running in the browser"))
			return
		}
		ev, err := msg.EngineEvent()
		if err != nil {
			_ = c.send(errorMessage(err.Error()))
			return
		}
		c.browserEngine.Deliver(msg.Session, ev)

	case MsgSpeechEnd, MsgSpeechError:
		if c.browserSynth == nil {
			return
		}
		errMsg := ""
		if msg.Type == MsgSpeechError {
			errMsg = msg.Error
			if errMsg == "" {
				errMsg = "unknown"
			}
		}
		c.browserSynth.Finished(msg.UtteranceID, errMsg)

	case MsgVoices:
		if c.browserSynth != nil {
			c.browserSynth.SetVoices(msg.Voices)
		}

	case MsgHello:
		_ = c.send(errorMessage("hello already received"))

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown client message")
		_ = c.send(errorMessage(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// applyPreferences stores a settings update and applies it to the session
func (c *Connection) applyPreferences(update prefs.Preferences) {
	for panel := range update.Voices {
		if !validPanel(panel) {
			_ = c.send(errorMessage(fmt.Sprintf("unknown panel %q", panel)))
			return
		}
	}

	p := c.updatePreferences(update)

	if update.AutoSpeak != nil {
		c.manager.SetAutoSpeak(*update.AutoSpeak)
	}
	if update.SilenceTimeoutMs > 0 {
		c.manager.SetSilenceTimeout(p.SilenceTimeout(0))
	}
	if update.From != "" || update.To != "" {
		if err := c.manager.ChangeLanguage(p.From, p.To); err != nil {
			c.logger.Warn().Err(err).Msg("Language change failed")
		}
	}
	for panel, name := range update.Voices {
		c.manager.SelectVoice(panel, name)
	}
}

// handleAudio feeds a PCM16 microphone frame to the server-side engine
func (c *Connection) handleAudio(pcm []byte) {
	if c.deepgram == nil {
		c.logger.Debug().Int("bytes", len(pcm)).Msg("Audio frame without server recognition, dropping")
		return
	}
	if err := c.deepgram.SendAudio(pcm); err != nil {
		c.logger.Debug().Err(err).Msg("Error sending audio to Deepgram")
		observability.RecordError("stt_send_error", "deepgram")
	}
}

// SendAudio implements tts.AudioSink for server-side synthesis
func (c *Connection) SendAudio(utteranceID string, sampleRate int, pcm []byte) error {
	observability.RecordAudioBytes("outbound", int64(len(pcm)))
	return c.send(audioMessage(utteranceID, sampleRate, pcm))
}

// CancelAudio implements tts.AudioSink
func (c *Connection) CancelAudio() {
	_ = c.send(ServerMessage{Type: MsgCancelSpeech})
}

// send queues msg for the writer. It waits briefly for a slow client
// before giving up.
func (c *Connection) send(msg ServerMessage) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-timer.C:
		c.logger.Warn().Str("type", msg.Type).Msg("Client is not reading, dropping message")
		observability.RecordError("send_queue_full", "gateway")
		return ErrSendQueueFull
	}
}

// writeLoop is the only goroutine writing to the socket once the session
// is set up
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Str("type", msg.Type).Msg("WebSocket write failed")
				// unblocks the read loop, which tears the connection down
				_ = c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.conn.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// interrupt closes the socket from another goroutine. The read loop then
// fails and its goroutine tears the session down.
func (c *Connection) interrupt() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeTimeout))
	_ = c.conn.Close()
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()

		if c.manager != nil {
			c.manager.Close()
		}
		if c.browserEngine != nil {
			_ = c.browserEngine.Close()
		}
		if c.deepgram != nil {
			if err := c.deepgram.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("Error closing Deepgram engine")
			}
		}
		if c.browserSynth != nil {
			c.browserSynth.Close()
		}
		if c.cartesia != nil {
			_ = c.cartesia.Close()
		}
		_ = c.conn.Close()

		c.logger.Info().Msg("Client session closed")
	})
}

func validPanel(panel string) bool {
	switch panel {
	case tts.PanelLeft, tts.PanelRight, tts.PanelAuto:
		return true
	}
	return false
}
