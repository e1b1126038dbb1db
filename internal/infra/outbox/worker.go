package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Producer abstracts the broker the worker publishes to.
type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker drains the outbox and publishes chat events to Kafka, retrying
// failed deliveries with the configured backoff schedule.
type Worker struct {
	Store       Store
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	Logger      *slog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) error {
	evt, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || evt == nil {
		return err
	}
	payload, headers, err := w.formatPayload(evt)
	if err != nil {
		_ = w.Store.MarkFailed(ctx, evt.ID, w.nextRetry(evt.Attempts), err.Error())
		return nil
	}
	topic := w.topicFor(evt.Name)
	if err := w.Producer.Publish(ctx, topic, evt.Aggregate, payload, headers); err != nil {
		if w.Logger != nil {
			w.Logger.Warn("outbox publish failed", "event", evt.Name, "topic", topic, "error", err)
		}
		_ = w.Store.MarkFailed(ctx, evt.ID, w.nextRetry(evt.Attempts), err.Error())
		return nil
	}
	return w.Store.MarkSent(ctx, evt.ID)
}

func (w *Worker) formatPayload(evt *PendingEvent) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(evt.Payload, &data); err != nil {
		return nil, nil, err
	}
	envelope := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            evt.Name + ".v1",
		"source":          w.source(),
		"time":            evt.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{"content-type": "application/cloudevents+json"}
	for k, v := range evt.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

func (w *Worker) topicFor(name string) string {
	topic := strings.ReplaceAll(name, ".", "-")
	if w.TopicPrefix != "" {
		return w.TopicPrefix + topic
	}
	return topic
}

func (w *Worker) nextRetry(attempts int) time.Time {
	backoff := w.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	if attempts >= len(backoff) {
		attempts = len(backoff) - 1
	}
	return time.Now().UTC().Add(backoff[attempts])
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) source() string {
	if w.Source == "" {
		return "bizlink-chat"
	}
	return w.Source
}

func (w *Worker) workerID() string {
	if w.ID == "" {
		return "outbox-worker"
	}
	return w.ID
}
