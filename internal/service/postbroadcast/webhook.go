package postbroadcast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/metrics"
)

// WebhookSender posts message envelopes to bot endpoints. Each bot gets its
// own circuit breaker so one dead endpoint cannot slow the whole fan-out:
// after consecutive failures the breaker opens and deliveries to that bot
// are dropped until the endpoint recovers.
type WebhookSender struct {
	client *http.Client
	log    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewWebhookSender(timeout time.Duration, log *slog.Logger) *WebhookSender {
	return &WebhookSender{
		client:   &http.Client{Timeout: timeout},
		log:      log.With(slog.String("comp", "webhook")),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (w *WebhookSender) breaker(botID string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	cb, ok := w.breakers[botID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook-" + botID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				w.log.Warn("webhook breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		w.breakers[botID] = cb
	}
	return cb
}

// Deliver posts the envelope to the bot's webhook. Returns nil when the
// breaker swallowed the call: webhook delivery is best effort and must never
// fail the outbox task.
func (w *WebhookSender) Deliver(ctx context.Context, bot *model.User, eventType string, payload []byte) error {
	_, err := w.breaker(bot.ID.String()).Execute(func() (any, error) {
		return nil, w.post(ctx, bot, eventType, payload)
	})
	switch {
	case err == nil:
		metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		return nil
	default:
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		w.log.Warn("webhook delivery failed",
			slog.String("bot_id", bot.ID.String()),
			slog.String("url", bot.WebhookURL),
			slog.Any("error", err))
	}
	return err
}

func (w *WebhookSender) post(ctx context.Context, bot *model.User, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bot.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webitel-Event", eventType)
	req.Header.Set("X-Webitel-Bot-Id", bot.ID.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
