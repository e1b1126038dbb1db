package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizlink/internal/app/voice"
)

func TestSpeechClient_Transcribe_EscapesLanguageHint(t *testing.T) {
	var gotHint string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotHint = r.URL.Query().Get("language")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello","language":"portuguese","confidence":0.88}`))
	}))
	defer srv.Close()

	client := NewSpeechClient(srv.URL, time.Second)
	hint := "pt BR/latin&script"
	result, err := client.Transcribe(context.Background(), []byte{1, 2}, hint)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotHint != hint {
		t.Errorf("hint round-trip = %q, want %q", gotHint, hint)
	}
	if result.Text != "hello" || result.Confidence != 0.88 {
		t.Errorf("result = %+v", result)
	}
}

func TestSpeechClient_Transcribe_ProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewSpeechClient(srv.URL, time.Second)
	if _, err := client.Transcribe(context.Background(), []byte{1}, ""); !errors.Is(err, voice.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestSpeechClient_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("pcm-bytes"))
	}))
	defer srv.Close()

	client := NewSpeechClient(srv.URL, time.Second)
	audio, err := client.Synthesize(context.Background(), "hello", "english", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "pcm-bytes" {
		t.Errorf("audio = %q", audio)
	}
}
