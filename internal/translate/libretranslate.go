package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LibreTranslateProvider translates through a LibreTranslate instance
type LibreTranslateProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLibreTranslateProvider creates a LibreTranslate provider
func NewLibreTranslateProvider(baseURL, apiKey string, httpClient *http.Client) *LibreTranslateProvider {
	if baseURL == "" {
		baseURL = "https://libretranslate.com"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LibreTranslateProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Name returns the provider identifier
func (p *LibreTranslateProvider) Name() string { return ProviderLibreTranslate }

// RequestBody builds the JSON payload for a request
func (p *LibreTranslateProvider) RequestBody(req Request) ([]byte, error) {
	return json.Marshal(libreRequest{
		Q:      req.Text,
		Source: BaseLanguage(req.From),
		Target: BaseLanguage(req.To),
		Format: "text",
		APIKey: p.apiKey,
	})
}

// Translate issues one POST request
func (p *LibreTranslateProvider) Translate(ctx context.Context, req Request) (string, error) {
	payload, err := p.RequestBody(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.baseURL, "/") + "/translate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Provider: ProviderLibreTranslate, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed libreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("libretranslate: %s", parsed.Error)
	}

	text := strings.TrimSpace(parsed.TranslatedText)
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}
