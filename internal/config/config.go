package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Translation provider names accepted by TRANSLATION_PROVIDER
const (
	ProviderAuto           = "auto"
	ProviderOpenAI         = "openai"
	ProviderMyMemory       = "mymemory"
	ProviderLibreTranslate = "libretranslate"
	ProviderGemini         = "gemini"
)

// Silence timeout bounds for auto-speak (milliseconds)
const (
	MinSilenceTimeoutMs = 1000
	MaxSilenceTimeoutMs = 10000
)

// Config holds all configuration for the caption gateway service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service; empty disables it

	// Comma separated list of origins allowed to open the captions WebSocket.
	// Empty allows all origins (development only).
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Translation configuration
	TranslationProvider string `envconfig:"TRANSLATION_PROVIDER" default:"auto"` // auto, openai, mymemory, libretranslate, gemini
	TranslationTimeout  int    `envconfig:"TRANSLATION_TIMEOUT" default:"10"`    // seconds per provider call

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	MyMemoryURL   string `envconfig:"MYMEMORY_URL" default:"https://api.mymemory.translated.net"`
	MyMemoryEmail string `envconfig:"MYMEMORY_EMAIL" default:""` // Raises the anonymous daily quota

	LibreTranslateURL    string `envconfig:"LIBRETRANSLATE_URL" default:"https://libretranslate.com"`
	LibreTranslateAPIKey string `envconfig:"LIBRETRANSLATE_API_KEY" default:""`

	// Deepgram STT (optional). Without a key clients must recognize speech in the browser.
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Cartesia TTS (optional). Without a key clients synthesize speech in the browser.
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Session defaults (clients may override through their preferences)
	AutoSpeak        bool `envconfig:"AUTO_SPEAK" default:"false"`
	SilenceTimeoutMs int  `envconfig:"SILENCE_TIMEOUT_MS" default:"3000"`
	DemoMode         bool `envconfig:"DEMO_MODE" default:"false"` // Force the canned demo recognizer

	// Preferences storage; empty keeps preferences in memory
	RedisURL string `envconfig:"REDIS_URL" default:""`

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"64000"`    // Mic audio held while the engine reconnects
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts (TTS)
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	RestartMaxAttempts         int `envconfig:"RESTART_MAX_ATTEMPTS" default:"3"`           // Recognizer auto-restarts
	RestartBaseDelay           int `envconfig:"RESTART_BASE_DELAY" default:"1000"`          // Milliseconds, multiplied by attempt

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	c.TranslationProvider = strings.ToLower(strings.TrimSpace(c.TranslationProvider))
	if !IsValidProvider(c.TranslationProvider) {
		return fmt.Errorf("TRANSLATION_PROVIDER must be one of auto, openai, mymemory, libretranslate, gemini (got %q)", c.TranslationProvider)
	}

	c.SilenceTimeoutMs = ClampSilenceTimeout(c.SilenceTimeoutMs)

	if c.TranslationTimeout <= 0 {
		return fmt.Errorf("TRANSLATION_TIMEOUT must be positive")
	}
	if c.RestartMaxAttempts < 0 {
		return fmt.Errorf("RESTART_MAX_ATTEMPTS must not be negative")
	}

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins

	return nil
}

// Warnings reports settings that are valid but will degrade behavior,
// such as selecting a keyed provider without its key.
func (c *Config) Warnings() []string {
	var warnings []string
	switch c.TranslationProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			warnings = append(warnings, "TRANSLATION_PROVIDER=openai but OPENAI_API_KEY is empty; translations will fail")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			warnings = append(warnings, "TRANSLATION_PROVIDER=gemini but GEMINI_API_KEY is empty; translations will fail")
		}
	}
	return warnings
}

// IsValidProvider reports whether name is a known translation provider
func IsValidProvider(name string) bool {
	switch name {
	case ProviderAuto, ProviderOpenAI, ProviderMyMemory, ProviderLibreTranslate, ProviderGemini:
		return true
	}
	return false
}

// ClampSilenceTimeout keeps the auto-speak silence timeout in its supported range
func ClampSilenceTimeout(ms int) int {
	if ms < MinSilenceTimeoutMs {
		return MinSilenceTimeoutMs
	}
	if ms > MaxSilenceTimeoutMs {
		return MaxSilenceTimeoutMs
	}
	return ms
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
