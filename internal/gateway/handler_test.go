package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/prefs"
	"github.com/lexiqai/caption-gateway/internal/translate"
	"github.com/lexiqai/caption-gateway/internal/tts"
)

func testConfig(myMemoryURL string) *config.Config {
	return &config.Config{
		TranslationProvider:        config.ProviderMyMemory,
		TranslationTimeout:         5,
		MyMemoryURL:                myMemoryURL,
		SilenceTimeoutMs:           3000,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RestartMaxAttempts:         3,
		RestartBaseDelay:           1000,
	}
}

type testServer struct {
	handler *Handler
	server  *httptest.Server
	store   *prefs.MemoryStore
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	store := prefs.NewMemoryStore()
	handler := NewHandler(Dependencies{Config: cfg, Store: store})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{handler: handler, server: server, store: store}
}

func (s *testServer) dial(t *testing.T, header http.Header) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads messages until one of type typ satisfies match
func readUntil(t *testing.T, ws *websocket.Conn, typ string, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, ws.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func hello(clientID string) ClientMessage {
	return ClientMessage{
		Type:         MsgHello,
		ClientID:     clientID,
		Capabilities: &Capabilities{SpeechRecognition: true, SpeechSynthesis: true},
		Voices:       []tts.Voice{{Name: "Samantha", Lang: "en-US"}, {Name: "Monica", Lang: "es-ES"}},
	}
}

func TestHandler_RequiresHello(t *testing.T) {
	s := newTestServer(t, testConfig(""))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgMicClick}))
	msg := readUntil(t, ws, MsgError, nil)
	assert.Contains(t, msg.Message, "hello")
}

func TestHandler_RejectsOrigin(t *testing.T) {
	cfg := testConfig("")
	cfg.AllowedOrigins = []string{"https://captions.example"}
	s := newTestServer(t, cfg)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	s.dial(t, http.Header{"Origin": []string{"https://captions.example"}})
}

func TestHandler_BrowserRecognitionFlow(t *testing.T) {
	release := make(chan struct{})
	myMemory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hello", r.URL.Query().Get("q"))
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":"hola"},"responseStatus":200}`))
	}))
	defer myMemory.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	s := newTestServer(t, testConfig(myMemory.URL))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(hello("client-1")))
	welcome := readUntil(t, ws, MsgWelcome, nil)
	assert.Equal(t, "client-1", welcome.ClientID)
	assert.False(t, welcome.ServerRecognition)

	state := readUntil(t, ws, MsgState, nil)
	assert.Equal(t, "idle", state.State)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgMicClick}))
	start := readUntil(t, ws, MsgStartRecognition, nil)
	assert.Equal(t, "en-US", start.Lang)
	readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.State == "recording" })

	require.NoError(t, ws.WriteJSON(ClientMessage{
		Type:    MsgRecognitionEvent,
		Session: start.Session,
		Event:   "result",
		Results: []RecognitionResult{{Transcript: "hello", IsFinal: true}},
	}))

	pending := readUntil(t, ws, MsgTranscript, nil)
	assert.Equal(t, "hello", pending.Transcript)
	assert.Equal(t, translate.PendingText, pending.Translation)
	unblock()

	translated := readUntil(t, ws, MsgTranscript, func(m ServerMessage) bool { return m.Translation != translate.PendingText })
	assert.Equal(t, "hello", translated.Transcript)
	assert.Equal(t, "hola", translated.Translation)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgMicClick}))
	readUntil(t, ws, MsgStopRecognition, nil)
	readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.State == "idle" })
}

func TestHandler_PanelSpeechPausesRecognition(t *testing.T) {
	s := newTestServer(t, testConfig(""))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(hello("client-2")))
	readUntil(t, ws, MsgWelcome, nil)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgMicClick}))
	readUntil(t, ws, MsgStartRecognition, nil)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgSpeak, Panel: tts.PanelRight, Text: "Hola amigo"}))
	readUntil(t, ws, MsgStopRecognition, nil)
	paused := readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.State == "recording_paused_for_playback" })
	require.NotNil(t, paused.ActiveAudio)
	assert.Equal(t, 1, *paused.ActiveAudio)

	speak := readUntil(t, ws, MsgSpeak, nil)
	assert.Equal(t, "Hola amigo", speak.Text)
	assert.Equal(t, "es", speak.Lang)
	require.NotNil(t, speak.Voice)
	assert.Equal(t, "Monica", speak.Voice.Name)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgSpeechEnd, UtteranceID: speak.UtteranceID}))
	resumed := readUntil(t, ws, MsgStartRecognition, nil)
	assert.Equal(t, "en-US", resumed.Lang)
	readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.State == "recording" })
}

func TestHandler_PersistsPreferences(t *testing.T) {
	s := newTestServer(t, testConfig(""))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(hello("client-3")))
	readUntil(t, ws, MsgWelcome, nil)

	enabled := true
	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgSetAutoSpeak, Enabled: &enabled}))
	readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.AutoSpeak != nil && *m.AutoSpeak })

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: MsgSetLanguages, From: "fr", To: "de"}))
	readUntil(t, ws, MsgState, func(m ServerMessage) bool { return m.From == "fr" })

	require.Eventually(t, func() bool {
		p, err := s.store.Get(context.Background(), "client-3")
		return err == nil && p.To == "de"
	}, 2*time.Second, 10*time.Millisecond)

	p, err := s.store.Get(context.Background(), "client-3")
	require.NoError(t, err)
	require.NotNil(t, p.AutoSpeak)
	assert.True(t, *p.AutoSpeak)
	assert.Equal(t, "fr", p.From)

	// a new connection picks the stored languages up
	ws.Close()
	ws2 := s.dial(t, nil)
	require.NoError(t, ws2.WriteJSON(hello("client-3")))
	state := readUntil(t, ws2, MsgState, nil)
	assert.Equal(t, "fr", state.From)
	assert.Equal(t, "de", state.To)
	require.NotNil(t, state.AutoSpeak)
	assert.True(t, *state.AutoSpeak)
}

func TestHandler_UnknownMessage(t *testing.T) {
	s := newTestServer(t, testConfig(""))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(hello("")))
	welcome := readUntil(t, ws, MsgWelcome, nil)
	assert.True(t, strings.HasPrefix(welcome.ClientID, "anon-"))

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: "teleport"}))
	msg := readUntil(t, ws, MsgError, nil)
	assert.Contains(t, msg.Message, "teleport")
}

func TestHandler_Shutdown(t *testing.T) {
	s := newTestServer(t, testConfig(""))
	ws := s.dial(t, nil)

	require.NoError(t, ws.WriteJSON(hello("client-4")))
	readUntil(t, ws, MsgWelcome, nil)
	require.Eventually(t, func() bool { return s.handler.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.handler.Shutdown(ctx))
	assert.Equal(t, 0, s.handler.ActiveConnections())

	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
