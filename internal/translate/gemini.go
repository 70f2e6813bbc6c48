package translate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider translates through the Gemini API
type GeminiProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiProvider creates a Gemini provider. baseURL overrides the API
// endpoint and is normally empty.
func NewGeminiProvider(apiKey, model, baseURL string, httpClient *http.Client) *GeminiProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Name returns the provider identifier
func (p *GeminiProvider) Name() string { return ProviderGemini }

// HasKey reports whether an API key is configured
func (p *GeminiProvider) HasKey() bool { return p.apiKey != "" }

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: p.httpClient,
		}
		if p.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
		}
		p.client, p.initErr = genai.NewClient(ctx, cfg)
	})
	return p.client, p.initErr
}

// Translate sends one GenerateContent request
func (p *GeminiProvider) Translate(ctx context.Context, req Request) (string, error) {
	if p.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return "", fmt.Errorf("create gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, genai.Text(req.Text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req.From, req.To), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
		MaxOutputTokens:   1000,
	})
	if err != nil {
		if strings.Contains(err.Error(), "429") || strings.Contains(strings.ToUpper(err.Error()), "RESOURCE_EXHAUSTED") {
			return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}
