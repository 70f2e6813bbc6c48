// Package gateway serves the captions WebSocket. Each browser connection
// gets its own recognition session, synthesizer and translator; the browser
// keeps only microphone capture, the Web Speech engines and rendering.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/prefs"
	"github.com/lexiqai/caption-gateway/internal/resilience"
	"github.com/lexiqai/caption-gateway/internal/translate"
)

const (
	handshakeTimeout = 10 * time.Second
	maxMessageBytes  = 1 << 20
)

// Dependencies are shared by every connection
type Dependencies struct {
	Config          *config.Config
	Store           prefs.Store
	Breakers        *translate.Breakers
	DeepgramBreaker *resilience.CircuitBreaker
	Retry           *resilience.RetryConfig
	HTTPClient      *http.Client
}

// Handler upgrades /captions/ws requests and runs one Connection per client
type Handler struct {
	deps     Dependencies
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	logger   zerolog.Logger

	mu       sync.Mutex
	conns    map[string]*Connection
	draining bool
	wg       sync.WaitGroup
}

// NewHandler creates the WebSocket handler
func NewHandler(deps Dependencies) *Handler {
	if deps.Store == nil {
		deps.Store = prefs.NewMemoryStore()
	}
	if deps.Breakers == nil {
		deps.Breakers = translate.NewBreakers(
			deps.Config.CircuitBreakerMaxFailures,
			time.Duration(deps.Config.CircuitBreakerResetTimeout)*time.Second,
		)
	}

	origins := make(map[string]struct{}, len(deps.Config.AllowedOrigins))
	for _, o := range deps.Config.AllowedOrigins {
		origins[o] = struct{}{}
	}

	h := &Handler{
		deps:    deps,
		origins: origins,
		logger:  observability.WithComponent("gateway"),
		conns:   make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed accepts requests without an Origin header and, when no
// origins are configured, any origin (development only)
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	hello, ok := h.readHello(conn)
	if !ok {
		return
	}

	c := newConnection(conn, h.deps, hello.ClientID)
	if !h.track(c) {
		writeCloseError(conn, "server is shutting down")
		c.Close()
		return
	}
	defer h.untrack(c)

	observability.RecordConnectionStart()
	defer observability.RecordConnectionEnd()

	go c.writeLoop()
	defer c.Close()

	if err := c.setup(hello); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to set up client session")
		return
	}
	c.readLoop()
}

// readHello waits for the first message, which must be hello
func (h *Handler) readHello(conn *websocket.Conn) (ClientMessage, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug().Err(err).Msg("Client left before hello")
		return ClientMessage{}, false
	}

	var hello ClientMessage
	if messageType != websocket.TextMessage || json.Unmarshal(data, &hello) != nil || hello.Type != MsgHello {
		writeCloseError(conn, "first message must be hello")
		return ClientMessage{}, false
	}
	return hello, true
}

func writeCloseError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(errorMessage(message))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(writeTimeout))
}

func (h *Handler) track(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.conns[c.ID()] = c
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *Connection) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()
	h.wg.Done()
}

// ActiveConnections returns the number of connected clients
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown refuses new connections, closes the open ones and waits for
// them to finish or ctx to expire
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.interrupt()
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
