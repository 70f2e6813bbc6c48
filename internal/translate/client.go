package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// Settings selects the provider and carries the credentials and endpoints
// for every backend. Per-client preferences are merged into Settings before
// a Client is built.
type Settings struct {
	Provider string
	Timeout  time.Duration

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	MyMemoryURL   string
	MyMemoryEmail string

	LibreTranslateURL    string
	LibreTranslateAPIKey string
}

// Breakers hands out one circuit breaker per provider name. A single set is
// shared by every Client in the process.
type Breakers struct {
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewBreakers creates an empty breaker set
func NewBreakers(maxFailures int, resetTimeout time.Duration) *Breakers {
	return &Breakers{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		breakers:     make(map[string]*resilience.CircuitBreaker),
	}
}

// Get returns the breaker for a provider, creating it on first use
func (b *Breakers) Get(provider string) *resilience.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[provider]
	if !ok {
		cb = resilience.NewCircuitBreaker("translate_"+provider, b.maxFailures, b.resetTimeout)
		b.breakers[provider] = cb
	}
	return cb
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used by the REST providers
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithProvider replaces the backend registered under p.Name()
func WithProvider(p Provider) Option {
	return func(c *Client) { c.overrides = append(c.overrides, p) }
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client translates text with the configured provider or the auto chain.
// Translate never returns an error.
type Client struct {
	provider  string
	timeout   time.Duration
	providers map[string]Provider
	breakers  *Breakers
	logger    zerolog.Logger

	httpClient *http.Client
	overrides  []Provider
}

// keyed is implemented by providers that need an API key
type keyed interface {
	HasKey() bool
}

// NewClient builds a client from settings. breakers may be nil, in which
// case the client gets a private set.
func NewClient(settings Settings, breakers *Breakers, opts ...Option) *Client {
	c := &Client{
		provider: strings.ToLower(strings.TrimSpace(settings.Provider)),
		timeout:  settings.Timeout,
		breakers: breakers,
		logger:   observability.WithComponent("translate"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.provider == "" {
		c.provider = ProviderAuto
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.breakers == nil {
		c.breakers = NewBreakers(5, 30*time.Second)
	}

	c.providers = map[string]Provider{
		ProviderOpenAI:         NewOpenAIProvider(settings.OpenAIAPIKey, settings.OpenAIModel, settings.OpenAIBaseURL, c.httpClient),
		ProviderGemini:         NewGeminiProvider(settings.GeminiAPIKey, settings.GeminiModel, settings.GeminiBaseURL, c.httpClient),
		ProviderMyMemory:       NewMyMemoryProvider(settings.MyMemoryURL, settings.MyMemoryEmail, c.httpClient),
		ProviderLibreTranslate: NewLibreTranslateProvider(settings.LibreTranslateURL, settings.LibreTranslateAPIKey, c.httpClient),
	}
	for _, p := range c.overrides {
		c.providers[p.Name()] = p
	}

	return c
}

// Provider returns the selected provider name
func (c *Client) Provider() string {
	return c.provider
}

// Chain returns the providers tried by auto mode, in order
func (c *Client) Chain() []string {
	chain := make([]string, 0, 4)
	for _, name := range []string{ProviderOpenAI, ProviderGemini} {
		if c.hasKey(name) {
			chain = append(chain, name)
		}
	}
	return append(chain, ProviderMyMemory, ProviderLibreTranslate)
}

func (c *Client) hasKey(name string) bool {
	p, ok := c.providers[name]
	if !ok {
		return false
	}
	if k, ok := p.(keyed); ok {
		return k.HasKey()
	}
	return true
}

// Translate returns the translation of req.Text, or a failure marker that
// embeds the original text. Empty text yields "" without any call.
func (c *Client) Translate(ctx context.Context, req Request) (result string) {
	if strings.TrimSpace(req.Text) == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("provider", c.provider).Msg("Translation panicked")
			observability.RecordError("panic", "translate")
			if c.provider == ProviderAuto {
				result = UnavailableMarker(req.Text)
			} else {
				result = FailedMarker(c.provider, req.Text)
			}
		}
	}()

	if c.provider != ProviderAuto {
		text, err := c.call(ctx, c.provider, req)
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", c.provider).Msg("Translation failed")
			return FailedMarker(c.provider, req.Text)
		}
		return text
	}

	for i, name := range c.Chain() {
		if i > 0 {
			observability.RecordTranslationFallback()
		}
		text, err := c.call(ctx, name, req)
		if err == nil {
			return text
		}
		if ctx.Err() != nil {
			break
		}
		if IsQuotaError(err) {
			c.logger.Info().Str("provider", name).Msg("Provider quota exhausted, falling back")
			continue
		}
		c.logger.Warn().Err(err).Str("provider", name).Msg("Provider failed, falling back")
	}

	return UnavailableMarker(req.Text)
}

// call runs one provider under its breaker and the per-call timeout
func (c *Client) call(ctx context.Context, name string, req Request) (string, error) {
	p, ok := c.providers[name]
	if !ok {
		return "", fmt.Errorf("unknown translation provider %q", name)
	}
	if !c.hasKey(name) {
		return "", ErrMissingAPIKey
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cb := c.breakers.Get(name)
	start := time.Now()

	var text string
	var providerErr error
	err := cb.Call(func() error {
		text, providerErr = p.Translate(callCtx, req)
		if providerErr != nil && countsAgainstBreaker(providerErr) {
			return providerErr
		}
		return nil
	})

	observability.UpdateCircuitBreakerState(cb.Name(), int(cb.State()))

	if err == nil {
		err = providerErr
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Debug().Str("provider", name).Msg("Circuit open, skipping provider")
	} else if err != nil && countsAgainstBreaker(err) {
		observability.IncrementCircuitBreakerFailures(cb.Name())
	}

	observability.RecordTranslation(name, err == nil, time.Since(start))

	if err != nil {
		return "", err
	}
	return text, nil
}

// countsAgainstBreaker excludes failures caused by the caller's credentials
// or cancellation, which say nothing about the provider's health.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, ErrMissingAPIKey) || errors.Is(err, context.Canceled) || IsQuotaError(err) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return true
}
