package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/audio"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

const (
	cartesiaDefaultURL = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion    = "2024-06-10"
	cartesiaSampleRate = 24000
)

// AudioSink delivers synthesized audio to whoever plays it
type AudioSink interface {
	SendAudio(utteranceID string, sampleRate int, pcm []byte) error
	CancelAudio()
}

// CartesiaOptions configures the Cartesia synthesizer
type CartesiaOptions struct {
	APIKey     string
	APIURL     string
	VoiceID    string
	ModelID    string
	OutputRate int // client playback rate

	HTTPClient *http.Client
	Retry      *resilience.RetryConfig
	Logger     *zerolog.Logger
}

// CartesiaRequest is the Cartesia bytes endpoint payload
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects a voice by ID
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat requests raw PCM
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaUtterance struct {
	id     string
	cancel context.CancelFunc
	done   func(error)
	timer  *time.Timer
}

// CartesiaSynthesizer synthesizes speech with Cartesia and hands the audio
// to a sink. An utterance is considered finished once its audio has had
// time to play.
type CartesiaSynthesizer struct {
	opts       CartesiaOptions
	sink       AudioSink
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	current *cartesiaUtterance
	closed  bool
}

// NewCartesiaSynthesizer creates a Cartesia synthesizer writing to sink
func NewCartesiaSynthesizer(opts CartesiaOptions, sink AudioSink) *CartesiaSynthesizer {
	if opts.APIURL == "" {
		opts.APIURL = cartesiaDefaultURL
	}
	if opts.ModelID == "" {
		opts.ModelID = "sonic"
	}
	if opts.OutputRate <= 0 {
		opts.OutputRate = audio.PlaybackSampleRate
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := observability.WithComponent("cartesia")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &CartesiaSynthesizer{
		opts:       opts,
		sink:       sink,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Voices returns the configured voice. It speaks any language the model
// supports, so it carries no language tag.
func (c *CartesiaSynthesizer) Voices() []Voice {
	return []Voice{{Name: c.opts.VoiceID, Default: true}}
}

// Speak synthesizes u and sends the audio to the sink
func (c *CartesiaSynthesizer) Speak(ctx context.Context, u Utterance, done func(error)) error {
	text := CleanText(u.Text)
	if text == "" {
		return ErrEmptyText
	}

	speakCtx, cancel := context.WithCancel(ctx)
	active := &cartesiaUtterance{id: u.ID, cancel: cancel, done: doneOnce(done)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrSynthesizerClosed
	}
	previous := c.current
	c.current = active
	c.mu.Unlock()

	if previous != nil {
		c.abort(previous)
	}

	voiceID := c.opts.VoiceID
	if u.Voice != nil && u.Voice.Name != "" {
		voiceID = u.Voice.Name
	}

	go c.run(speakCtx, active, text, baseLanguage(u.Lang), voiceID)
	return nil
}

// CancelAll stops the current utterance and tells the sink to drop audio
func (c *CartesiaSynthesizer) CancelAll() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active != nil {
		c.abort(active)
	}
}

// Close cancels speech and rejects further utterances
func (c *CartesiaSynthesizer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.CancelAll()
	return nil
}

func (c *CartesiaSynthesizer) abort(u *cartesiaUtterance) {
	u.cancel()
	c.mu.Lock()
	if u.timer != nil {
		u.timer.Stop()
	}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.CancelAudio()
	}
	u.done(ErrSpeechCanceled)
}

func (c *CartesiaSynthesizer) finish(u *cartesiaUtterance, err error) {
	c.mu.Lock()
	if c.current != u {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	u.cancel()
	u.done(err)
}

func (c *CartesiaSynthesizer) run(ctx context.Context, u *cartesiaUtterance, text, lang, voiceID string) {
	start := time.Now()

	var pcm []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var err error
		pcm, err = c.synthesize(ctx, text, lang, voiceID)
		return err
	}, c.opts.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("utterance_id", u.id).Msg("Cartesia synthesis failed")
			observability.RecordError("synthesis", "tts")
		}
		c.finish(u, err)
		return
	}

	observability.RecordTTSLatency(time.Since(start))

	prepared, err := audio.PrepareForPlayback(pcm, cartesiaSampleRate, c.opts.OutputRate)
	if err != nil {
		c.finish(u, fmt.Errorf("prepare audio: %w", err))
		return
	}

	if c.sink != nil {
		if err := c.sink.SendAudio(u.id, c.opts.OutputRate, prepared); err != nil {
			c.finish(u, fmt.Errorf("send audio: %w", err))
			return
		}
	}

	playback := time.Duration(audio.Duration(len(prepared), c.opts.OutputRate) * float64(time.Second))
	c.logger.Debug().
		Str("utterance_id", u.id).
		Int("bytes", len(prepared)).
		Dur("playback", playback).
		Msg("Sent synthesized audio")

	c.mu.Lock()
	if c.current != u {
		c.mu.Unlock()
		return
	}
	u.timer = time.AfterFunc(playback, func() {
		c.finish(u, nil)
	})
	c.mu.Unlock()
}

func (c *CartesiaSynthesizer) synthesize(ctx context.Context, text, lang, voiceID string) ([]byte, error) {
	payload, err := json.Marshal(CartesiaRequest{
		ModelID:    c.opts.ModelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaSampleRate,
		},
		Language: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.opts.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	return body, nil
}
