package stt

import (
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

func TestLanguageTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en", "en-US"},
		{"EN", "en-US"},
		{"en-GB", "en-GB"},
		{"ja", "ja"},
		{" fr-CA ", "fr-CA"},
	}

	for _, tt := range tests {
		if got := LanguageTag(tt.in); got != tt.want {
			t.Errorf("LanguageTag(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestParseEventType(t *testing.T) {
	for _, typ := range []EventType{EventResult, EventEnd, EventError, EventSpeechStart, EventAudioStart} {
		parsed, ok := ParseEventType(typ.String())
		if !ok || parsed != typ {
			t.Errorf("Expected %s to round trip, got %v (ok=%v)", typ, parsed, ok)
		}
	}

	if _, ok := ParseEventType("soundend"); ok {
		t.Error("Expected unknown event name to be rejected")
	}
}

func TestDeepgramEngine_BuffersAudioWhileDisconnected(t *testing.T) {
	engine := NewDeepgramEngine(DeepgramOptions{BufferSize: 8})

	if err := engine.SendAudio([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := engine.SendAudio([]byte{7, 8, 9, 10}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	if engine.buffer.Len() != 8 {
		t.Errorf("Expected 8 buffered bytes, got %d", engine.buffer.Len())
	}

	got := engine.buffer.Drain()
	if got[0] != 3 || got[7] != 10 {
		t.Errorf("Expected the newest audio to survive, got %v", got)
	}
}

func TestDeepgramEngine_ClosedRejectsWork(t *testing.T) {
	engine := NewDeepgramEngine(DeepgramOptions{})
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := engine.SendAudio([]byte{1, 2}); err != ErrEngineClosed {
		t.Errorf("Expected ErrEngineClosed from SendAudio, got %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
}

func TestDeepgramEngine_CumulativeResults(t *testing.T) {
	engine := NewDeepgramEngine(DeepgramOptions{})
	engine.gen = 1
	engine.isActive = true

	message := func(text string, final bool) *msginterfaces.MessageResponse {
		msg := &msginterfaces.MessageResponse{IsFinal: final}
		msg.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: text}}
		return msg
	}

	engine.handleMessage(1, message("hello", false))
	engine.handleMessage(1, message("hello world", true))
	engine.handleMessage(1, message("how are", false))
	engine.handleMessage(0, message("stale session", true))

	var events []Event
	for len(engine.events) > 0 {
		events = append(events, <-engine.events)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	last := events[2]
	if last.ResultIndex != 1 || len(last.Results) != 2 {
		t.Fatalf("Expected index 1 with 2 results, got index %d with %d results", last.ResultIndex, len(last.Results))
	}
	if !last.Results[0].IsFinal || last.Results[0].Transcript != "hello world" {
		t.Errorf("Expected first result to be the committed final, got %+v", last.Results[0])
	}
	if last.Results[1].IsFinal || last.Results[1].Transcript != "how are" {
		t.Errorf("Expected interim second result, got %+v", last.Results[1])
	}
}
