package providers

import (
	"context"
	"fmt"

	"bizlink/internal/app/translate"
	"bizlink/internal/app/voice"
)

// MockTranslator is a deterministic translator for local development: it tags
// the original text with the target language.
type MockTranslator struct{}

func (MockTranslator) Translate(ctx context.Context, text, source, target string) (translate.ProviderResult, error) {
	return translate.ProviderResult{
		Text:       fmt.Sprintf("[%s] %s", target, text),
		Confidence: 0.99,
	}, nil
}

// MockSpeech is a deterministic speech service for local development.
type MockSpeech struct{}

func (MockSpeech) Transcribe(ctx context.Context, audio []byte, languageHint string) (voice.TranscriptResult, error) {
	lang := languageHint
	if lang == "" || lang == "auto" {
		lang = "english"
	}
	return voice.TranscriptResult{
		Text:       fmt.Sprintf("(%d bytes of audio)", len(audio)),
		Language:   lang,
		Confidence: 0.9,
	}, nil
}

func (MockSpeech) Synthesize(ctx context.Context, text, language, voiceName string) ([]byte, error) {
	return []byte(text), nil
}
