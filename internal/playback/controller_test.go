package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/caption-gateway/internal/translate"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

type fakeSynth struct {
	mu         sync.Mutex
	utterances []tts.Utterance
	dones      []func(error)
	cancels    int
	onCancel   func()
}

func (f *fakeSynth) Voices() []tts.Voice {
	return []tts.Voice{{Name: "Samantha", Lang: "en-US"}, {Name: "Kyoko", Lang: "ja-JP"}}
}

func (f *fakeSynth) Speak(ctx context.Context, u tts.Utterance, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, u)
	f.dones = append(f.dones, done)
	return nil
}

func (f *fakeSynth) CancelAll() {
	f.mu.Lock()
	f.cancels++
	hook := f.onCancel
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (f *fakeSynth) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeSynth) spoken() []tts.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.Utterance(nil), f.utterances...)
}

func (f *fakeSynth) finish(i int) {
	f.mu.Lock()
	done := f.dones[i]
	f.mu.Unlock()
	done(nil)
}

const testTimeout = 60 * time.Millisecond

func newTestController(synth *fakeSynth, opts Options) *Controller {
	opts.Synthesizer = synth
	if opts.StabilizeDelay == 0 {
		opts.StabilizeDelay = 10 * time.Millisecond
	}
	return New(opts)
}

func speakingState(transcript, translation string) State {
	return State{
		Transcript:  transcript,
		Translation: translation,
		AutoSpeak:   true,
		TargetLang:  "ja-JP",
		Timeout:     testTimeout,
	}
}

func TestController_FiresAfterSilenceOnce(t *testing.T) {
	synth := &fakeSynth{}
	var starts, ends atomic.Int32
	c := newTestController(synth, Options{
		OnAudioStart: func() bool { starts.Add(1); return true },
		OnAudioEnd:   func() { ends.Add(1) },
	})
	defer c.Close()

	c.Update(speakingState("Hello", "こんにちは"))

	time.Sleep(testTimeout / 2)
	assert.Empty(t, synth.spoken(), "must not fire before the timeout")

	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)

	u := synth.spoken()[0]
	assert.Equal(t, "こんにちは", u.Text)
	assert.Equal(t, tts.PanelAuto, u.Source)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "Kyoko", u.Voice.Name)
	assert.Equal(t, 1, synth.cancels)
	assert.Equal(t, int32(1), starts.Load())
	assert.True(t, c.InFlight())

	synth.finish(0)
	assert.Equal(t, int32(1), ends.Load())
	assert.False(t, c.InFlight())

	// Same translation, no transcript change: nothing more to say
	c.Update(speakingState("Hello", "こんにちは"))
	time.Sleep(3 * testTimeout)
	assert.Len(t, synth.spoken(), 1)
}

func TestController_TimerRestartsOnTranscriptChange(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	c.Update(speakingState("Hello", "Hola"))
	time.Sleep(testTimeout * 2 / 3)
	c.Update(speakingState("Hello world", "Hola mundo"))
	time.Sleep(testTimeout * 2 / 3)

	assert.Empty(t, synth.spoken())

	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Hola mundo", synth.spoken()[0].Text)
}

func TestController_LateTranslationStabilizes(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	c.Update(speakingState("Hello", translate.PendingText))
	time.Sleep(testTimeout * 2)
	assert.Empty(t, synth.spoken())

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, 200*time.Millisecond, 2*time.Millisecond)
}

func TestController_Guards(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"auto-speak disabled", State{Transcript: "Hi", Translation: "Hola", Timeout: testTimeout}},
		{"audio playing", State{Transcript: "Hi", Translation: "Hola", AutoSpeak: true, AudioPlaying: true, Timeout: testTimeout}},
		{"empty translation", State{Transcript: "Hi", AutoSpeak: true, Timeout: testTimeout}},
		{"pending translation", State{Transcript: "Hi", Translation: translate.PendingText, AutoSpeak: true, Timeout: testTimeout}},
		{"failure marker", State{Transcript: "Hi", Translation: "[OpenAI failed] Hi", AutoSpeak: true, Timeout: testTimeout}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &fakeSynth{}
			c := newTestController(synth, Options{})
			defer c.Close()

			c.Update(tt.state)
			time.Sleep(testTimeout * 2)
			assert.Empty(t, synth.spoken())
		})
	}
}

func TestController_ManualActionGuard(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{ManualGuard: time.Second})
	defer c.Close()

	c.NoteManualAction()
	c.Update(speakingState("Hello", "Hola"))
	time.Sleep(testTimeout * 2)

	assert.Empty(t, synth.spoken())
}

func TestController_CancelPending(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	c.Update(speakingState("Hello", "Hola"))
	c.CancelPending()
	time.Sleep(testTimeout * 2)

	assert.Empty(t, synth.spoken())
}

func TestController_CloseStopsEverything(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})

	c.Update(speakingState("Hello", "Hola"))
	c.Close()
	c.Update(speakingState("Hello again", "Hola otra vez"))
	time.Sleep(testTimeout * 2)

	assert.Empty(t, synth.spoken())
}

func TestController_NewSpeechAfterPlaybackClearsTranscript(t *testing.T) {
	synth := &fakeSynth{}
	var clears atomic.Int32
	c := newTestController(synth, Options{OnClearTranscript: func() { clears.Add(1) }})
	defer c.Close()

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	synth.finish(0)

	c.Update(speakingState("", ""))
	assert.Equal(t, int32(0), clears.Load())

	c.Update(speakingState("Goodbye", translate.PendingText))
	assert.Equal(t, int32(1), clears.Load())

	c.Update(speakingState("Goodbye friend", translate.PendingText))
	assert.Equal(t, int32(1), clears.Load())
}

func TestController_NeverRepeatsWithinPeriod(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	synth.finish(0)

	// New speech whose translation happens to be identical
	c.Update(speakingState("Hello hello", "Hola"))
	time.Sleep(testTimeout * 2)
	assert.Len(t, synth.spoken(), 1)

	// Toggling auto-speak starts a new period
	off := speakingState("Hello hello", "Hola")
	off.AutoSpeak = false
	c.Update(off)
	c.Update(speakingState("Hello hello hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestController_EnablingAutoSpeakSpeaksSettledTranscript(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	off := speakingState("Hello", "Hola")
	off.AutoSpeak = false
	c.Update(off)
	time.Sleep(testTimeout * 2)
	assert.Empty(t, synth.spoken())

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, testTimeout*3/4, 2*time.Millisecond,
		"a transcript already silent for the timeout should play after the stabilize delay")
}

func TestController_EnablingAutoSpeakMidUtteranceWaitsForSilence(t *testing.T) {
	synth := &fakeSynth{}
	c := newTestController(synth, Options{})
	defer c.Close()

	c.Update(speakingState("Hi", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	synth.finish(0)

	off := speakingState("Hi", "Hola")
	off.AutoSpeak = false
	c.Update(off)
	time.Sleep(testTimeout * 2)

	off = speakingState("Hi there", "Hola allí")
	off.AutoSpeak = false
	c.Update(off)
	c.Update(speakingState("Hi there", "Hola allí"))

	time.Sleep(testTimeout / 2)
	assert.Len(t, synth.spoken(), 1, "speech that just changed must wait out the timeout")

	require.Eventually(t, func() bool { return len(synth.spoken()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Hola allí", synth.spoken()[1].Text)
}

func TestController_StartHookVeto(t *testing.T) {
	synth := &fakeSynth{}
	var calls atomic.Int32
	c := newTestController(synth, Options{
		OnAudioStart: func() bool { return calls.Add(1) > 1 },
	})
	defer c.Close()

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(testTimeout / 2)
	assert.Empty(t, synth.spoken())
	assert.False(t, c.InFlight())

	// the vetoed translation is still eligible
	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return len(synth.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Hola", synth.spoken()[0].Text)
}

func TestController_CancelDuringHandoffDropsPlay(t *testing.T) {
	synth := &fakeSynth{}
	var starts atomic.Int32
	c := newTestController(synth, Options{
		OnAudioStart: func() bool { starts.Add(1); return true },
	})
	defer c.Close()

	var once sync.Once
	synth.onCancel = func() { once.Do(c.CancelPending) }

	c.Update(speakingState("Hello", "Hola"))
	require.Eventually(t, func() bool { return synth.cancelCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(testTimeout / 2)

	assert.Empty(t, synth.spoken())
	assert.Equal(t, int32(0), starts.Load())
	assert.False(t, c.InFlight())
}
