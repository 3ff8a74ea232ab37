// Package notify pushes zero-PII outcome notifications to an operator
// webhook. Payloads carry status and timing only, never claims.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Payload is the webhook body. Claims never appear here.
type Payload struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Metrics Metrics `json:"metrics"`
}

// Metrics carries timing information about the verification.
type Metrics struct {
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers outcome webhooks with retries. The zero value of a nil
// *Notifier is a no-op, matching an unset webhook URL.
type Notifier struct {
	url    string
	client *retryablehttp.Client
	logger *slog.Logger
}

// New returns nil when url is empty; all methods tolerate a nil receiver.
func New(url string, logger *slog.Logger) *Notifier {
	if url == "" {
		return nil
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	return &Notifier{url: url, client: client, logger: logger}
}

// SessionVerified reports a successful verification.
func (n *Notifier) SessionVerified(ctx context.Context, latency time.Duration) error {
	return n.send(ctx, Payload{
		Status:  "verified",
		Message: "credential presentation accepted",
		Metrics: Metrics{LatencyMS: latency.Milliseconds(), Timestamp: time.Now().UTC()},
	})
}

// SessionFailed reports a failed verification. The reason is a stable
// category, not validator detail.
func (n *Notifier) SessionFailed(ctx context.Context, reason string, latency time.Duration) error {
	return n.send(ctx, Payload{
		Status:  "failed",
		Message: reason,
		Metrics: Metrics{LatencyMS: latency.Milliseconds(), Timestamp: time.Now().UTC()},
	})
}

func (n *Notifier) send(ctx context.Context, payload Payload) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.WarnContext(ctx, "webhook delivery failed", "status", payload.Status, "error", err)
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.WarnContext(ctx, "webhook rejected", "status", payload.Status, "http_status", resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
