package recognizer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/translate"
)

// Demo replays a canned script on a fixed interval, translating each new
// sentence. It stands in when no speech engine is available.
type Demo struct {
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	active     bool
	session    uint64
	cancel     context.CancelFunc
	transcript string
}

// NewDemo creates a demo recognizer
func NewDemo(opts Options) *Demo {
	opts = opts.withDefaults()

	logger := observability.WithComponent("demo_recognizer")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Demo{opts: opts, logger: logger}
}

// Start begins replaying the script
func (d *Demo) Start(ctx context.Context, onResult ResultFunc, from, to string, tr Translator) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.active = true
	d.session++
	d.cancel = cancel
	d.transcript = ""

	observability.RecordRecordingStart()
	d.logger.Info().Int("sentences", len(d.opts.DemoScript)).Msg("Demo recognition started")

	go d.run(runCtx, d.session, onResult, from, to, tr)
	return nil
}

// Stop ends the replay
func (d *Demo) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return
	}
	d.active = false
	d.session++
	d.cancel()
	d.cancel = nil
	d.transcript = ""
}

// IsActive reports whether the script is still replaying
func (d *Demo) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Demo) run(ctx context.Context, session uint64, onResult ResultFunc, from, to string, tr Translator) {
	ticker := time.NewTicker(d.opts.DemoInterval)
	defer ticker.Stop()

	for index := 0; index < len(d.opts.DemoScript); index++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		if !d.active || d.session != session {
			d.mu.Unlock()
			return
		}
		d.transcript = joinText(d.transcript, d.opts.DemoScript[index])
		text := d.transcript
		d.mu.Unlock()

		var translation string
		if tr != nil {
			translation = tr.Translate(ctx, translate.Request{Text: text, From: from, To: to})
		}
		if ctx.Err() != nil {
			return
		}

		if onResult != nil {
			onResult(TranscriptResult{Transcript: text, Translation: translation})
		}
	}

	d.mu.Lock()
	if !d.active || d.session != session {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.session++
	d.cancel()
	d.cancel = nil
	onStopped := d.opts.OnStopped
	d.mu.Unlock()

	d.logger.Info().Msg("Demo script finished")
	if onStopped != nil {
		onStopped("script complete")
	}
}
