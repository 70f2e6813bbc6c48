package gateway

import (
	"encoding/base64"
	"fmt"

	"github.com/lexiqai/caption-gateway/internal/prefs"
	"github.com/lexiqai/caption-gateway/internal/recognizer"
	"github.com/lexiqai/caption-gateway/internal/session"
	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

// Client to server message types
const (
	MsgHello            = "hello"
	MsgMicClick         = "mic_click"
	MsgSetLanguages     = "set_languages"
	MsgSetAutoSpeak     = "set_auto_speak"
	MsgSetPreferences   = "set_preferences"
	MsgSelectVoice      = "select_voice"
	MsgSpeak            = "speak"
	MsgRecognitionEvent = "recognition_event"
	MsgSpeechEnd        = "speech_end"
	MsgSpeechError      = "speech_error"
	MsgVoices           = "voices"
)

// Server to client message types
const (
	MsgWelcome          = "welcome"
	MsgTranscript       = "transcript"
	MsgState            = "state"
	MsgStartRecognition = "start_recognition"
	MsgStopRecognition  = "stop_recognition"
	MsgAudio            = "audio"
	MsgCancelSpeech     = "cancel_speech"
	MsgClearTranscript  = "clear_transcript"
	MsgAlert            = "alert"
	MsgError            = "error"
)

// Capabilities describes what the browser can do itself
type Capabilities struct {
	SpeechRecognition bool `json:"speech_recognition"`
	SpeechSynthesis   bool `json:"speech_synthesis"`
}

// RecognitionResult is one Web Speech result forwarded by the browser
type RecognitionResult struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// ClientMessage is any message sent by the browser. Only the fields of the
// given Type are set.
type ClientMessage struct {
	Type string `json:"type"`

	// hello
	ClientID     string        `json:"client_id,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`

	// hello, voices
	Voices []tts.Voice `json:"voices,omitempty"`

	// set_languages
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// set_auto_speak
	Enabled *bool `json:"enabled,omitempty"`

	// set_preferences
	Preferences *prefs.Preferences `json:"preferences,omitempty"`

	// select_voice, speak
	Panel string `json:"panel,omitempty"`
	Voice string `json:"voice,omitempty"`
	Text  string `json:"text,omitempty"`

	// recognition_event
	Session     uint64              `json:"session,omitempty"`
	Event       string              `json:"event,omitempty"`
	ResultIndex int                 `json:"result_index,omitempty"`
	Results     []RecognitionResult `json:"results,omitempty"`
	Error       string              `json:"error,omitempty"`

	// speech_end, speech_error
	UtteranceID string `json:"utterance_id,omitempty"`
}

// EngineEvent converts a recognition_event message
func (m ClientMessage) EngineEvent() (stt.Event, error) {
	typ, ok := stt.ParseEventType(m.Event)
	if !ok {
		return stt.Event{}, fmt.Errorf("unknown recognition event %q", m.Event)
	}

	ev := stt.Event{
		Type:        typ,
		ResultIndex: m.ResultIndex,
		ErrorCode:   m.Error,
	}
	if len(m.Results) > 0 {
		ev.Results = make([]stt.Segment, len(m.Results))
		for i, r := range m.Results {
			ev.Results[i] = stt.Segment{Transcript: r.Transcript, IsFinal: r.IsFinal}
		}
	}
	return ev, nil
}

// ServerMessage is any message sent to the browser
type ServerMessage struct {
	Type string `json:"type"`

	// transcript
	Transcript  string `json:"transcript,omitempty"`
	Interim     string `json:"interim,omitempty"`
	Translation string `json:"translation,omitempty"`

	// state
	State        string `json:"state,omitempty"`
	Recording    *bool  `json:"recording,omitempty"`
	AudioPlaying *bool  `json:"audio_playing,omitempty"`
	ActiveAudio  *int   `json:"active_audio,omitempty"`
	AutoSpeak    *bool  `json:"auto_speak,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`

	// start_recognition
	Session uint64 `json:"session,omitempty"`
	Lang    string `json:"lang,omitempty"`

	// speak, audio
	UtteranceID string     `json:"utterance_id,omitempty"`
	Text        string     `json:"text,omitempty"`
	Voice       *tts.Voice `json:"voice,omitempty"`
	SampleRate  int        `json:"sample_rate,omitempty"`
	Data        string     `json:"data,omitempty"` // base64 PCM16

	// welcome
	ClientID          string `json:"client_id,omitempty"`
	ServerRecognition bool   `json:"server_recognition,omitempty"` // stream PCM16 frames to the gateway
	ServerSynthesis   bool   `json:"server_synthesis,omitempty"`   // expect audio messages instead of speak

	// alert, error
	Message string `json:"message,omitempty"`
}

func transcriptMessage(res recognizer.TranscriptResult) ServerMessage {
	return ServerMessage{
		Type:        MsgTranscript,
		Transcript:  res.Transcript,
		Interim:     res.Interim,
		Translation: res.Translation,
	}
}

func stateMessage(snap session.Snapshot) ServerMessage {
	recording := snap.Recording
	playing := snap.AudioPlaying
	active := snap.ActiveAudio
	autoSpeak := snap.AutoSpeak
	return ServerMessage{
		Type:         MsgState,
		State:        snap.State.String(),
		Recording:    &recording,
		AudioPlaying: &playing,
		ActiveAudio:  &active,
		AutoSpeak:    &autoSpeak,
		From:         snap.From,
		To:           snap.To,
	}
}

func speakMessage(u tts.Utterance) ServerMessage {
	return ServerMessage{
		Type:        MsgSpeak,
		UtteranceID: u.ID,
		Text:        u.Text,
		Lang:        u.Lang,
		Voice:       u.Voice,
	}
}

func audioMessage(utteranceID string, sampleRate int, pcm []byte) ServerMessage {
	return ServerMessage{
		Type:        MsgAudio,
		UtteranceID: utteranceID,
		SampleRate:  sampleRate,
		Data:        base64.StdEncoding.EncodeToString(pcm),
	}
}

func alertMessage(message string) ServerMessage {
	return ServerMessage{Type: MsgAlert, Message: message}
}

func errorMessage(message string) ServerMessage {
	return ServerMessage{Type: MsgError, Message: message}
}
