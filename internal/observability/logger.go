package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	initOnce   sync.Once
	rootLogger zerolog.Logger
)

// InitLogger configures the process logger. Only the first call has an effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		var out io.Writer = os.Stdout
		if pretty {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}

		zerolog.SetGlobalLevel(ParseLevel(level))
		rootLogger = zerolog.New(out).With().
			Timestamp().
			Str("service", "caption-gateway").
			Logger()
		log.Logger = rootLogger
	})
}

// ParseLevel maps a configured level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// Logger returns the process logger, initializing it with defaults if needed
func Logger() zerolog.Logger {
	InitLogger("info", false)
	return rootLogger
}

// WithComponent returns the process logger tagged with a component name
func WithComponent(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// NewConnectionID returns a random identifier for one client connection
func NewConnectionID() string {
	return uuid.NewString()
}

// ForConnection returns a logger carrying the identifiers of one client connection
func ForConnection(connectionID, clientID string) zerolog.Logger {
	return Logger().With().
		Str("connection_id", connectionID).
		Str("client_id", clientID).
		Logger()
}
