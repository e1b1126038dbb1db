package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	domainchat "bizlink/internal/domain/chat"
)

// ErrProviderUnavailable wraps translation provider failures. Callers receive
// a degraded result alongside it, never a bare hard error.
var ErrProviderUnavailable = errors.New("translate: provider unavailable")

// Provider is the external translation collaborator.
type Provider interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (ProviderResult, error)
}

type ProviderResult struct {
	Text       string
	Confidence float64
}

// Result is a translation lookup outcome. Degraded marks a fallback built
// from the original text after a provider failure; it is never cached, so a
// later retry can still succeed.
type Result struct {
	Translation domainchat.Translation
	Degraded    bool
}

// Cache serves per-message, per-language translations. Hits never touch the
// provider; concurrent misses for the same key collapse to one in-flight
// provider call.
type Cache struct {
	Messages domainchat.MessageRepository
	Provider Provider
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time

	group singleflight.Group
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Cache) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 15 * time.Second
	}
	return c.Timeout
}

// GetOrTranslate returns the cached translation for the target language, or
// computes, persists, and returns it on a miss.
func (c *Cache) GetOrTranslate(ctx context.Context, messageID domainchat.MessageID, targetLanguage string) (Result, error) {
	targetLanguage = strings.ToLower(strings.TrimSpace(targetLanguage))
	if targetLanguage == "" {
		return Result{}, fmt.Errorf("%w: target language required", domainchat.ErrValidation)
	}

	msg, err := c.Messages.ByID(ctx, messageID)
	if err != nil {
		return Result{}, err
	}
	if tr, ok := msg.Content.Translations[targetLanguage]; ok {
		return Result{Translation: tr}, nil
	}

	key := string(messageID) + ":" + targetLanguage
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.translateAndStore(ctx, messageID, targetLanguage)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) translateAndStore(ctx context.Context, messageID domainchat.MessageID, targetLanguage string) (Result, error) {
	// Re-read inside the flight: a concurrent caller may have stored the
	// translation between our miss and the provider call.
	msg, err := c.Messages.ByID(ctx, messageID)
	if err != nil {
		return Result{}, err
	}
	if tr, ok := msg.Content.Translations[targetLanguage]; ok {
		return Result{Translation: tr}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	provided, err := c.Provider.Translate(callCtx, msg.Content.OriginalText, msg.Content.OriginalLanguage, targetLanguage)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("translation provider failed",
				"message_id", messageID, "target", targetLanguage, "error", err)
		}
		// Fall back to the original text with a zero-confidence marker and
		// skip caching, so the next request can retry the provider.
		return Result{
			Translation: domainchat.Translation{
				Text:         msg.Content.OriginalText,
				Confidence:   0,
				TranslatedAt: c.now(),
			},
			Degraded: true,
		}, nil
	}

	tr := domainchat.Translation{
		Text:         provided.Text,
		Confidence:   provided.Confidence,
		TranslatedAt: c.now(),
	}
	if err := c.persist(ctx, messageID, targetLanguage, tr); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("translation persist failed", "message_id", messageID, "error", err)
		}
	}
	return Result{Translation: tr}, nil
}

func (c *Cache) persist(ctx context.Context, messageID domainchat.MessageID, language string, tr domainchat.Translation) error {
	for attempt := 0; attempt < 8; attempt++ {
		msg, err := c.Messages.ByID(ctx, messageID)
		if err != nil {
			return err
		}
		msg.AttachTranslation(language, tr)
		err = c.Messages.Save(ctx, msg)
		if errors.Is(err, domainchat.ErrConcurrentUpdate) {
			continue
		}
		return err
	}
	return domainchat.ErrConcurrentUpdate
}
