package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/audio"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// messageCallbackHandler embeds the default handler and overrides the
// callbacks the engine needs
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	engine *DeepgramEngine
	gen    uint64
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.engine.handleMessage(m.gen, message)
	return nil
}

func (m *messageCallbackHandler) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	m.engine.emitForSession(m.gen, Event{Type: EventSpeechStart})
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.engine.handleError(m.gen, fmt.Errorf("deepgram error: %+v", errorResponse))
	return nil
}

func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.engine.handleClose(m.gen)
	return nil
}

// DeepgramOptions configures the Deepgram engine
type DeepgramOptions struct {
	APIKey     string
	Model      string
	SampleRate int

	BufferSize int              // bytes of mic audio held while disconnected
	VAD        *audio.VADConfig // local voice activity detection, nil for defaults
	Breaker    *resilience.CircuitBreaker
	Logger     *zerolog.Logger
}

// DeepgramEngine implements Engine over Deepgram's streaming API. Audio is
// pushed with SendAudio as 16-bit little-endian mono PCM.
type DeepgramEngine struct {
	opts           DeepgramOptions
	events         chan Event
	done           chan struct{}
	buffer         *audio.RingBuffer
	vad            *audio.VADDetector
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger

	mu       sync.Mutex
	client   *listenClient.WSCallback
	cancel   context.CancelFunc
	isActive bool
	closed   bool
	gen      uint64
	finals   []string
}

// NewDeepgramEngine creates a Deepgram engine. The connection is opened by Start.
func NewDeepgramEngine(opts DeepgramOptions) *DeepgramEngine {
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = audio.MicSampleRate
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64000
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}

	logger := observability.WithComponent("deepgram")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &DeepgramEngine{
		opts:           opts,
		events:         make(chan Event, 100),
		done:           make(chan struct{}),
		buffer:         audio.NewRingBuffer(opts.BufferSize),
		vad:            audio.NewVADDetector(opts.VAD),
		circuitBreaker: breaker,
		logger:         logger,
	}
}

// Events returns the engine event stream
func (d *DeepgramEngine) Events() <-chan Event {
	return d.events
}

// Start opens a streaming session in lang
func (d *DeepgramEngine) Start(ctx context.Context, lang string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrEngineClosed
	}
	if d.isActive {
		d.mu.Unlock()
		return fmt.Errorf("deepgram engine is already active")
	}
	d.gen++
	gen := d.gen
	d.finals = nil
	d.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.opts.Model,
		Language:       LanguageTag(lang),
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.opts.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		engine:                 d,
		gen:                    gen,
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	var client *listenClient.WSCallback
	err := d.circuitBreaker.Call(func() error {
		var err error
		client, err = listenClient.NewWSUsingCallback(sessionCtx, d.opts.APIKey, nil, tOptions, callback)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return fmt.Errorf("failed to connect to Deepgram")
		}
		return nil
	})
	observability.UpdateCircuitBreakerState(d.circuitBreaker.Name(), int(d.circuitBreaker.State()))
	if err != nil {
		cancel()
		observability.IncrementCircuitBreakerFailures(d.circuitBreaker.Name())
		return err
	}

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		cancel()
		client.Finish()
		return ErrEngineClosed
	}
	d.client = client
	d.cancel = cancel
	d.isActive = true
	d.mu.Unlock()

	d.logger.Info().
		Str("model", d.opts.Model).
		Str("language", tOptions.Language).
		Msg("Deepgram streaming session started")

	d.emit(Event{Type: EventAudioStart})
	d.flushBuffered()
	return nil
}

// SendAudio pushes one chunk of PCM16 audio. While no session is open the
// audio is held in a ring buffer and flushed on the next Start.
func (d *DeepgramEngine) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrEngineClosed
	}
	active := d.isActive
	client := d.client
	gen := d.gen
	started, _ := d.vad.ProcessPCM(pcm)
	d.mu.Unlock()

	observability.RecordAudioBytes("inbound", int64(len(pcm)))

	if !active || client == nil {
		if dropped := d.buffer.Write(pcm); dropped > 0 {
			d.logger.Debug().Int("dropped", dropped).Msg("Audio buffer full, dropping oldest audio")
		}
		return nil
	}

	if started {
		d.emitForSession(gen, Event{Type: EventSpeechStart})
	}

	err := d.circuitBreaker.Call(func() error {
		if _, err := client.Write(pcm); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures(d.circuitBreaker.Name())
		d.handleError(gen, err)
	}
	return err
}

func (d *DeepgramEngine) flushBuffered() {
	pending := d.buffer.Drain()
	if len(pending) == 0 {
		return
	}

	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return
	}

	if _, err := client.Write(pending); err != nil {
		d.logger.Warn().Err(err).Int("bytes", len(pending)).Msg("Failed to flush buffered audio")
	}
}

// Stop ends the current session and emits EventEnd
func (d *DeepgramEngine) Stop() error {
	d.mu.Lock()
	if !d.isActive {
		d.mu.Unlock()
		return nil
	}
	client, cancel := d.teardownLocked()
	d.mu.Unlock()

	client.Finish()
	cancel()

	d.logger.Info().Msg("Deepgram streaming session stopped")
	d.emit(Event{Type: EventEnd})
	return nil
}

// Close stops any session and releases the engine
func (d *DeepgramEngine) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.buffer.Clear()
	return nil
}

// IsActive reports whether a streaming session is open
func (d *DeepgramEngine) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isActive
}

func (d *DeepgramEngine) teardownLocked() (*listenClient.WSCallback, context.CancelFunc) {
	client, cancel := d.client, d.cancel
	d.client = nil
	d.cancel = nil
	d.isActive = false
	d.finals = nil
	d.vad.Reset()
	return client, cancel
}

// handleMessage turns a Deepgram transcript into a cumulative result list
func (d *DeepgramEngine) handleMessage(gen uint64, msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return
	}

	d.mu.Lock()
	if gen != d.gen || !d.isActive {
		d.mu.Unlock()
		return
	}
	results := make([]Segment, 0, len(d.finals)+1)
	for _, f := range d.finals {
		results = append(results, Segment{Transcript: f, IsFinal: true})
	}
	index := len(d.finals)
	results = append(results, Segment{Transcript: text, IsFinal: msg.IsFinal})
	if msg.IsFinal {
		d.finals = append(d.finals, text)
	}
	d.mu.Unlock()

	d.logger.Debug().Bool("final", msg.IsFinal).Str("transcript", text).Msg("Deepgram transcription")
	d.emit(Event{Type: EventResult, ResultIndex: index, Results: results})
}

// handleError reports a connection failure as a network error followed by
// the end of the session
func (d *DeepgramEngine) handleError(gen uint64, err error) {
	d.mu.Lock()
	if gen != d.gen || !d.isActive {
		d.mu.Unlock()
		return
	}
	client, cancel := d.teardownLocked()
	d.mu.Unlock()

	d.logger.Warn().Err(err).Msg("Deepgram session failed")
	observability.RecordError("deepgram", "stt")

	cancel()
	go client.Finish()

	d.emit(Event{Type: EventError, ErrorCode: ErrorNetwork})
	d.emit(Event{Type: EventEnd})
}

func (d *DeepgramEngine) handleClose(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.isActive {
		d.mu.Unlock()
		return
	}
	_, cancel := d.teardownLocked()
	d.mu.Unlock()

	cancel()
	d.logger.Info().Msg("Deepgram closed the stream")
	d.emit(Event{Type: EventEnd})
}

func (d *DeepgramEngine) emitForSession(gen uint64, ev Event) {
	d.mu.Lock()
	current := gen == d.gen && d.isActive
	d.mu.Unlock()
	if current {
		d.emit(ev)
	}
}

func (d *DeepgramEngine) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}
