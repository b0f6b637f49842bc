// Package notify delivers alert messages to external channels. Providers
// share the catalog.Notifier contract: delivery is best-effort, failures are
// logged by the caller and never roll back cycle state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig controls the webhook notifier.
type WebhookConfig struct {
	// URL is the Discord-compatible webhook endpoint.
	URL     string
	Timeout time.Duration
}

// Webhook posts alert messages as webhook content payloads.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook builds a Webhook notifier.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts the message. Discord caps content at 2000 characters; longer
// messages are truncated rather than rejected, an alert cut short beats an
// alert lost.
func (w *Webhook) Send(ctx context.Context, message string) error {
	const maxContent = 2000
	if len(message) > maxContent {
		message = message[:maxContent]
	}
	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
