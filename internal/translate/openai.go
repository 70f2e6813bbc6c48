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

// OpenAIProvider translates through an OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAI provider. An empty apiKey is allowed;
// Translate then fails with ErrMissingAPIKey without a network call.
func NewOpenAIProvider(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// HasKey reports whether an API key is configured
func (p *OpenAIProvider) HasKey() bool { return p.apiKey != "" }

// Translate sends one chat completion request
func (p *OpenAIProvider) Translate(ctx context.Context, req Request) (string, error) {
	if p.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Body: string(respBody)}
		if IsQuotaError(statusErr) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, statusErr)
		}
		return "", statusErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyTranslation
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}

func (p *OpenAIProvider) buildRequest(req Request) *chatRequest {
	return &chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.From, req.To)},
			{Role: "user", Content: req.Text},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

func (p *OpenAIProvider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + "/chat/completions"
}

// systemPrompt is shared by the LLM-backed providers
func systemPrompt(from, to string) string {
	return fmt.Sprintf(
		"You are a professional interpreter. Translate the user's text from %s to %s. "+
			"Reply with the translation only, without quotes, notes or explanations.",
		LanguageName(from), LanguageName(to))
}
