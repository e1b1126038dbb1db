package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bizlink/internal/app/translate"
)

// TranslationClient calls an external machine-translation service over HTTP.
type TranslationClient struct {
	url    string
	client *http.Client
}

func NewTranslationClient(url string, timeout time.Duration) *TranslationClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TranslationClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string  `json:"translated_text"`
	Confidence     float64 `json:"confidence"`
}

func (c *TranslationClient) Translate(ctx context.Context, text, source, target string) (translate.ProviderResult, error) {
	body, err := json.Marshal(translateRequest{Text: text, SourceLanguage: source, TargetLanguage: target})
	if err != nil {
		return translate.ProviderResult{}, fmt.Errorf("translate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return translate.ProviderResult{}, fmt.Errorf("translate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return translate.ProviderResult{}, fmt.Errorf("%w: %v", translate.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return translate.ProviderResult{}, fmt.Errorf("%w: status %d: %s", translate.ErrProviderUnavailable, resp.StatusCode, string(snippet))
	}

	var payload translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return translate.ProviderResult{}, fmt.Errorf("translate: decode response: %w", err)
	}
	return translate.ProviderResult{Text: payload.TranslatedText, Confidence: payload.Confidence}, nil
}
