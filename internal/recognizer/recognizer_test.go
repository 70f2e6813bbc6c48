package recognizer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/translate"
)

type fakeEngine struct {
	events chan stt.Event

	mu     sync.Mutex
	starts int
	stops  int
	langs  []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan stt.Event, 64)}
}

func (f *fakeEngine) Start(ctx context.Context, lang string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.langs = append(f.langs, lang)
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) Events() <-chan stt.Event { return f.events }
func (f *fakeEngine) Close() error             { return nil }

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeEngine) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type recorder struct {
	mu      sync.Mutex
	results []TranscriptResult
}

func (r *recorder) onResult(res TranscriptResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []TranscriptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscriptResult(nil), r.results...)
}

func (r *recorder) last() TranscriptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return TranscriptResult{}
	}
	return r.results[len(r.results)-1]
}

type recordingTranslator struct {
	mu       sync.Mutex
	requests []string
	block    map[string]chan struct{}
}

func (t *recordingTranslator) Translate(ctx context.Context, req translate.Request) string {
	t.mu.Lock()
	t.requests = append(t.requests, req.Text)
	wait := t.block[req.Text]
	t.mu.Unlock()

	if wait != nil {
		<-wait
	}
	return "T:" + req.Text
}

func (t *recordingTranslator) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requests...)
}

func final(index int, texts ...string) stt.Event {
	ev := stt.Event{Type: stt.EventResult, ResultIndex: index}
	for _, text := range texts {
		ev.Results = append(ev.Results, stt.Segment{Transcript: text, IsFinal: true})
	}
	return ev
}

func withInterim(ev stt.Event, text string) stt.Event {
	ev.Results = append(ev.Results, stt.Segment{Transcript: text})
	return ev
}

func TestLive_StartUsesRegionalTag(t *testing.T) {
	engine := newFakeEngine()
	live := NewLive(engine, Options{})

	require.NoError(t, live.Start(context.Background(), nil, "en", "ja", &recordingTranslator{}))
	defer live.Stop()

	assert.Equal(t, []string{"en-US"}, engine.langs)
	assert.ErrorIs(t, live.Start(context.Background(), nil, "en", "ja", nil), ErrAlreadyActive)
}

func TestLive_TranscriptIsPrefixMonotonic(t *testing.T) {
	engine := newFakeEngine()
	rec := &recorder{}
	live := NewLive(engine, Options{DebounceInterval: 5 * time.Millisecond})

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "es", &recordingTranslator{}))
	defer live.Stop()

	engine.events <- withInterim(stt.Event{Type: stt.EventResult}, "hello wor")
	engine.events <- final(0, "hello world")
	engine.events <- withInterim(final(1, "hello world"), "how")
	engine.events <- withInterim(final(1, "hello world"), "hoe are")
	engine.events <- final(1, "hello world", "how are you")

	require.Eventually(t, func() bool {
		return rec.last().Transcript == "hello world how are you" && rec.last().Translation == "T:hello world how are you"
	}, time.Second, 5*time.Millisecond)

	results := rec.all()
	for i := 1; i < len(results); i++ {
		assert.True(t, strings.HasPrefix(results[i].Transcript, results[i-1].Transcript),
			"transcript %q does not extend %q", results[i].Transcript, results[i-1].Transcript)
	}

	assert.Equal(t, "hello wor", results[0].Interim)
	assert.Equal(t, "", results[0].Transcript)
}

func TestLive_PendingTranslationSentinel(t *testing.T) {
	engine := newFakeEngine()
	rec := &recorder{}
	release := make(chan struct{})
	tr := &recordingTranslator{block: map[string]chan struct{}{"Hello": release}}
	live := NewLive(engine, Options{})

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "ja", tr))
	defer live.Stop()

	engine.events <- final(0, "Hello")

	require.Eventually(t, func() bool {
		return rec.last().Translation == translate.PendingText
	}, time.Second, 5*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool {
		return rec.last().Translation == "T:Hello"
	}, time.Second, 5*time.Millisecond)
}

func TestLive_DebounceDoesNotRepeatTranslatedText(t *testing.T) {
	engine := newFakeEngine()
	rec := &recorder{}
	tr := &recordingTranslator{}
	live := NewLive(engine, Options{})

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "ja", tr))
	defer live.Stop()

	engine.events <- final(0, "Hello")
	time.Sleep(200 * time.Millisecond)
	engine.events <- final(1, "Hello", "world")

	require.Eventually(t, func() bool {
		return rec.last().Translation == "T:Hello world"
	}, 2*time.Second, 10*time.Millisecond)

	// A repeated interim update must not trigger another request
	engine.events <- withInterim(final(2, "Hello", "world"), "again")
	time.Sleep(600 * time.Millisecond)

	assert.Equal(t, []string{"Hello", "Hello world"}, tr.all())
}

func TestLive_StaleTranslationDiscarded(t *testing.T) {
	engine := newFakeEngine()
	rec := &recorder{}
	release := make(chan struct{})
	tr := &recordingTranslator{block: map[string]chan struct{}{"one": release}}
	live := NewLive(engine, Options{DebounceInterval: 10 * time.Millisecond})

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "fr", tr))
	defer live.Stop()

	engine.events <- final(0, "one")
	time.Sleep(30 * time.Millisecond)
	engine.events <- final(1, "one", "two")

	require.Eventually(t, func() bool {
		return rec.last().Translation == "T:one two"
	}, time.Second, 5*time.Millisecond)

	close(release)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "T:one two", rec.last().Translation)
}

func TestLive_RestartBound(t *testing.T) {
	engine := newFakeEngine()
	stopped := make(chan string, 1)
	live := NewLive(engine, Options{
		RestartBaseDelay: 5 * time.Millisecond,
		OnStopped:        func(reason string) { stopped <- reason },
	})

	require.NoError(t, live.Start(context.Background(), nil, "en", "es", nil))

	for want := 2; want <= 4; want++ {
		engine.events <- stt.Event{Type: stt.EventEnd}
		require.Eventually(t, func() bool { return engine.startCount() == want }, time.Second, 2*time.Millisecond)
	}

	engine.events <- stt.Event{Type: stt.EventEnd}

	select {
	case reason := <-stopped:
		assert.Equal(t, "max restart attempts reached", reason)
	case <-time.After(time.Second):
		t.Fatal("Expected recognition to give up after 3 restarts")
	}

	assert.False(t, live.IsActive())
	assert.Equal(t, 4, engine.startCount())
}

func TestLive_SpeechResetsRestartAttempts(t *testing.T) {
	engine := newFakeEngine()
	live := NewLive(engine, Options{RestartBaseDelay: 5 * time.Millisecond})

	require.NoError(t, live.Start(context.Background(), nil, "en", "es", nil))
	defer live.Stop()

	engine.events <- stt.Event{Type: stt.EventEnd}
	require.Eventually(t, func() bool { return engine.startCount() == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, live.RestartAttempts())

	engine.events <- stt.Event{Type: stt.EventAudioStart}
	require.Eventually(t, func() bool { return live.RestartAttempts() == 0 }, time.Second, 2*time.Millisecond)
}

func TestLive_AbortedNeverRestarts(t *testing.T) {
	engine := newFakeEngine()
	stopped := make(chan string, 1)
	live := NewLive(engine, Options{
		RestartBaseDelay: time.Millisecond,
		OnStopped:        func(reason string) { stopped <- reason },
	})

	require.NoError(t, live.Start(context.Background(), nil, "en", "es", nil))

	engine.events <- stt.Event{Type: stt.EventError, ErrorCode: stt.ErrorAborted}
	engine.events <- stt.Event{Type: stt.EventEnd}

	select {
	case reason := <-stopped:
		assert.Equal(t, "aborted", reason)
	case <-time.After(time.Second):
		t.Fatal("Expected aborted session to stop")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, engine.startCount())
}

func TestLive_NoSpeechDelaysRestart(t *testing.T) {
	engine := newFakeEngine()
	live := NewLive(engine, Options{
		RestartBaseDelay: time.Millisecond,
		NoSpeechDelay:    80 * time.Millisecond,
	})

	require.NoError(t, live.Start(context.Background(), nil, "en", "es", nil))
	defer live.Stop()

	engine.events <- stt.Event{Type: stt.EventError, ErrorCode: stt.ErrorNoSpeech}
	engine.events <- stt.Event{Type: stt.EventEnd}

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, engine.startCount())

	require.Eventually(t, func() bool { return engine.startCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestLive_PermissionDeniedReported(t *testing.T) {
	engine := newFakeEngine()
	codes := make(chan string, 1)
	stopped := make(chan string, 1)
	live := NewLive(engine, Options{
		OnError:   func(code string) { codes <- code },
		OnStopped: func(reason string) { stopped <- reason },
	})

	require.NoError(t, live.Start(context.Background(), nil, "en", "es", nil))

	engine.events <- stt.Event{Type: stt.EventError, ErrorCode: stt.ErrorNotAllowed}
	engine.events <- stt.Event{Type: stt.EventEnd}

	select {
	case code := <-codes:
		assert.Equal(t, stt.ErrorNotAllowed, code)
	case <-time.After(time.Second):
		t.Fatal("Expected permission error to be reported")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Expected recognition to stop after permission denial")
	}
	assert.Equal(t, 1, engine.startCount())
}

func TestLive_StopIsIdempotentAndClears(t *testing.T) {
	engine := newFakeEngine()
	rec := &recorder{}
	live := NewLive(engine, Options{})

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "es", nil))
	engine.events <- final(0, "first session")
	require.Eventually(t, func() bool { return rec.last().Transcript == "first session" }, time.Second, 5*time.Millisecond)

	live.Stop()
	live.Stop()
	assert.Equal(t, 1, engine.stopCount())
	assert.False(t, live.IsActive())

	require.NoError(t, live.Start(context.Background(), rec.onResult, "en", "es", nil))
	defer live.Stop()
	engine.events <- final(0, "second")
	require.Eventually(t, func() bool { return rec.last().Transcript == "second" }, time.Second, 5*time.Millisecond)
}

func TestLive_StopReleasesEngineEvents(t *testing.T) {
	engine := newFakeEngine()

	for i := 0; i < 50; i++ {
		first := NewLive(engine, Options{})
		require.NoError(t, first.Start(context.Background(), nil, "en", "es", nil))
		first.Stop()

		rec := &recorder{}
		second := NewLive(engine, Options{})
		require.NoError(t, second.Start(context.Background(), rec.onResult, "en", "es", nil))

		engine.events <- final(0, "handed over")
		require.Eventually(t, func() bool { return rec.last().Transcript == "handed over" },
			time.Second, time.Millisecond, "iteration %d lost the event", i)
		second.Stop()
	}
}

func TestDemo_ReplaysScriptAndStops(t *testing.T) {
	rec := &recorder{}
	stopped := make(chan string, 1)
	demo := NewDemo(Options{
		DemoInterval: 5 * time.Millisecond,
		DemoScript:   []string{"One.", "Two.", "Three."},
		OnStopped:    func(reason string) { stopped <- reason },
	})

	tr := TranslatorFunc(func(ctx context.Context, req translate.Request) string {
		return strings.ToUpper(req.Text)
	})
	require.NoError(t, demo.Start(context.Background(), rec.onResult, "en", "en", tr))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Expected demo to stop after the script")
	}

	results := rec.all()
	require.Len(t, results, 3)
	assert.Equal(t, "One. Two. Three.", results[2].Transcript)
	assert.Equal(t, "ONE. TWO. THREE.", results[2].Translation)
	assert.False(t, demo.IsActive())
}

func TestDemo_StopHaltsReplay(t *testing.T) {
	rec := &recorder{}
	demo := NewDemo(Options{DemoInterval: 20 * time.Millisecond})

	require.NoError(t, demo.Start(context.Background(), rec.onResult, "en", "es", nil))
	demo.Stop()
	demo.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestNew_SelectsImplementation(t *testing.T) {
	_, isDemo := New(nil, Options{}).(*Demo)
	assert.True(t, isDemo)

	_, isLive := New(newFakeEngine(), Options{}).(*Live)
	assert.True(t, isLive)
}
