package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// WebhookSender posts alerts as JSON to a fixed URL.
type WebhookSender struct {
	client HTTPClient
	url    string
}

// NewWebhookSender creates a webhook sender using client.
func NewWebhookSender(client HTTPClient, url string) *WebhookSender {
	return &WebhookSender{client: client, url: url}
}

// New returns a WebhookSender for url, or a NoopSender when url is empty.
func New(url string, timeout time.Duration) Sender {
	if url == "" {
		return NoopSender{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewWebhookSender(&http.Client{Timeout: timeout}, url)
}

// Send posts the alert once. Non-2xx responses are errors.
func (s *WebhookSender) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
