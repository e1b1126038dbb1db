package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appchat "bizlink/internal/app/chat"
	domainchat "bizlink/internal/domain/chat"
)

// ErrProviderUnavailable wraps speech provider failures.
var ErrProviderUnavailable = errors.New("voice: speech provider unavailable")

// Audio blobs are raw 16-bit little-endian PCM at 16 kHz mono; duration is
// derived from the byte length.
const bytesPerSecond = 16000 * 2

// SpeechProvider is the external speech collaborator: speech-to-text for
// voice notes, text-to-speech for synthesized replies.
type SpeechProvider interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (TranscriptResult, error)
	Synthesize(ctx context.Context, text, language, voice string) ([]byte, error)
}

type TranscriptResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Uploader stores the audio blob and returns a public media reference.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
}

// Sender is the slice of the chat store the pipeline needs.
type Sender interface {
	SendMessage(ctx context.Context, conversationID domainchat.ConversationID, senderID string, params appchat.SendParams) (*domainchat.Message, error)
}

// Pipeline turns raw audio into a persisted voice message: waveform envelope,
// blob upload, transcription, message creation. A provider failure degrades
// to a flagged fallback transcript instead of blocking the send.
type Pipeline struct {
	Chat    Sender
	Speech  SpeechProvider
	Media   Uploader
	Timeout time.Duration
	Logger  *slog.Logger
}

func (p *Pipeline) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

// IngestVoice processes one voice note and returns the created message.
func (p *Pipeline) IngestVoice(ctx context.Context, conversationID domainchat.ConversationID, senderID string, audio []byte, languageHint string) (*domainchat.Message, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", domainchat.ErrValidation)
	}

	duration := float64(len(audio)) / bytesPerSecond
	waveform := Envelope(audio)

	var audioURL string
	if p.Media != nil {
		key := fmt.Sprintf("voice/%s/%s.pcm", conversationID, uuid.NewString())
		url, err := p.Media.Upload(ctx, key, bytes.NewReader(audio), "audio/L16")
		if err != nil {
			return nil, fmt.Errorf("upload voice blob: %w", err)
		}
		audioURL = url
	}

	transcript := p.transcribe(ctx, audio, languageHint)

	return p.Chat.SendMessage(ctx, conversationID, senderID, appchat.SendParams{
		Type:     domainchat.TypeVoice,
		Text:     transcript.Text,
		Language: transcript.Language,
		Voice: &domainchat.Voice{
			AudioURL:        audioURL,
			DurationSeconds: duration,
			Transcript:      transcript,
			Waveform:        waveform,
		},
	})
}

// transcribe calls the speech provider under a timeout. On failure it returns
// a fallback transcript that is clearly flagged, never a fabricated one.
func (p *Pipeline) transcribe(ctx context.Context, audio []byte, languageHint string) domainchat.Transcript {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	result, err := p.Speech.Transcribe(callCtx, audio, languageHint)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("transcription failed, storing fallback", "hint", languageHint, "error", err)
		}
		lang := languageHint
		if lang == "auto" {
			lang = ""
		}
		return domainchat.Transcript{Language: lang, Fallback: true}
	}
	return domainchat.Transcript{
		Text:       result.Text,
		Language:   result.Language,
		Confidence: result.Confidence,
	}
}

// Synthesize converts text to audio via the speech provider.
func (p *Pipeline) Synthesize(ctx context.Context, text, language, voiceName string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text required", domainchat.ErrValidation)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	audio, err := p.Speech.Synthesize(callCtx, text, language, voiceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return audio, nil
}
