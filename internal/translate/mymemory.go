package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// MyMemoryProvider translates through the free MyMemory REST API
type MyMemoryProvider struct {
	baseURL    string
	email      string
	httpClient *http.Client
}

// NewMyMemoryProvider creates a MyMemory provider
func NewMyMemoryProvider(baseURL, email string, httpClient *http.Client) *MyMemoryProvider {
	if baseURL == "" {
		baseURL = "https://api.mymemory.translated.net"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MyMemoryProvider{
		baseURL:    baseURL,
		email:      email,
		httpClient: httpClient,
	}
}

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
		Translation    string `json:"translation"`
	} `json:"responseData"`
	// MyMemory sends the status as a number or as a string
	ResponseStatus  json.RawMessage `json:"responseStatus"`
	ResponseDetails string          `json:"responseDetails"`
}

// Name returns the provider identifier
func (p *MyMemoryProvider) Name() string { return ProviderMyMemory }

// RequestURL builds the GET URL for a request
func (p *MyMemoryProvider) RequestURL(req Request) string {
	query := url.Values{}
	query.Set("q", req.Text)
	query.Set("langpair", myMemoryLanguage(req.From)+"|"+myMemoryLanguage(req.To))
	if p.email != "" {
		query.Set("de", p.email)
	}
	return strings.TrimRight(p.baseURL, "/") + "/get?" + query.Encode()
}

// Translate issues one GET request
func (p *MyMemoryProvider) Translate(ctx context.Context, req Request) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.RequestURL(req), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

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
		return "", &StatusError{Provider: ProviderMyMemory, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed myMemoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if status := strings.Trim(string(parsed.ResponseStatus), `"`); status != "" && status != "200" {
		if status == "429" {
			return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, parsed.ResponseDetails)
		}
		return "", fmt.Errorf("mymemory status %s: %s", status, parsed.ResponseDetails)
	}

	text := parsed.ResponseData.TranslatedText
	if text == "" {
		text = parsed.ResponseData.Translation
	}
	text = strings.TrimSpace(text)

	if strings.HasPrefix(strings.ToUpper(text), "MYMEMORY WARNING") {
		return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, text)
	}
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}
