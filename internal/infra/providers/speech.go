package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bizlink/internal/app/voice"
)

// SpeechClient calls an external speech service over HTTP: POST /transcribe
// with raw audio, POST /synthesize with a JSON request.
type SpeechClient struct {
	baseURL string
	client  *http.Client
}

func NewSpeechClient(baseURL string, timeout time.Duration) *SpeechClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SpeechClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte, languageHint string) (voice.TranscriptResult, error) {
	endpoint := c.baseURL + "/transcribe"
	if languageHint != "" {
		endpoint += "?language=" + url.QueryEscape(languageHint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return voice.TranscriptResult{}, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/L16")

	resp, err := c.client.Do(req)
	if err != nil {
		return voice.TranscriptResult{}, fmt.Errorf("%w: %v", voice.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return voice.TranscriptResult{}, fmt.Errorf("%w: status %d: %s", voice.ErrProviderUnavailable, resp.StatusCode, string(snippet))
	}

	var payload transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return voice.TranscriptResult{}, fmt.Errorf("speech: decode response: %w", err)
	}
	return voice.TranscriptResult{Text: payload.Text, Language: payload.Language, Confidence: payload.Confidence}, nil
}

func (c *SpeechClient) Synthesize(ctx context.Context, text, language, voiceName string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Language: language, Voice: voiceName})
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voice.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", voice.ErrProviderUnavailable, resp.StatusCode, string(snippet))
	}
	return io.ReadAll(resp.Body)
}
