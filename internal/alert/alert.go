// Package alert delivers best-effort operator notifications on engine
// failover transitions. Delivery failures are logged and swallowed; the
// pipeline never waits on or fails because of an alert.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier fires one notification. Implementations must be non-blocking
// from the caller's perspective and must never return delivery errors into
// the pipeline.
type Notifier interface {
	Notify(kind, message string)
}

// Webhook posts alerts as JSON to a configured URL.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
}

type webhookPayload struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewWebhook(url string, timeout time.Duration, log *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Webhook{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		log:     log.With(slog.String("component", "alerts")),
	}
}

// Notify fires the webhook in the background and returns immediately.
func (w *Webhook) Notify(kind, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		if err := w.post(ctx, kind, message); err != nil {
			w.log.Warn("alert delivery failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()))
		}
	}()
}

func (w *Webhook) post(ctx context.Context, kind, message string) error {
	body, err := json.Marshal(webhookPayload{Kind: kind, Message: message, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %s", resp.Status)
	}
	return nil
}

// Noop drops every alert; used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(string, string) {}
