package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// WebhookSender posts rendered notifications to the recipient's
// registered webhook endpoints.
type WebhookSender struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	DefaultTimeout time.Duration // Default timeout for webhook requests
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type webhookBody struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	SentAt         string `json:"sent_at"`
}

// Send posts the rendered content to each active endpoint. The request
// body is signed with HMAC-SHA256 using the endpoint's secret, falling
// back to the channel provider's signing secret. A delivery counts as
// sent when at least one endpoint accepts it.
func (s *WebhookSender) Send(ctx context.Context, d *Delivery) (string, error) {
	if d.ChannelType != channel.TypeWebhook {
		return "", fmt.Errorf("webhook sender only supports webhooks, got: %s", d.ChannelType)
	}

	if len(d.Settings.Endpoints) == 0 {
		return "", fmt.Errorf("webhook delivery has no active endpoints")
	}

	body, err := json.Marshal(webhookBody{
		NotificationID: d.NotificationID.String(),
		RecipientID:    d.RecipientID.String(),
		Title:          d.Content.Title,
		Body:           d.Content.Body,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal webhook body: %w", err)
	}

	var providerSecret string
	timeout := s.client.Timeout
	if wp, ok := d.Provider.(channel.WebhookProvider); ok {
		providerSecret = wp.SigningSecret
		if wp.TimeoutSeconds > 0 {
			timeout = wp.Timeout()
		}
	}

	var delivered int
	var lastErr error
	for _, ep := range d.Settings.Endpoints {
		if err := s.post(ctx, d, ep.URL, body, secretFor(ep.Secret, providerSecret), timeout); err != nil {
			lastErr = err
			s.logger.Warn("webhook post failed",
				zap.String("notification_id", d.NotificationID.String()),
				zap.String("url", ep.URL),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return "", fmt.Errorf("webhook post failed for all %d endpoints: %w", len(d.Settings.Endpoints), lastErr)
	}

	s.logger.Info("webhook delivered",
		zap.String("notification_id", d.NotificationID.String()),
		zap.Int("endpoints", delivered),
		zap.Int("failed_endpoints", len(d.Settings.Endpoints)-delivered),
	)

	return fmt.Sprintf("webhook:%d/%d", delivered, len(d.Settings.Endpoints)), nil
}

func secretFor(endpointSecret, providerSecret string) string {
	if endpointSecret != "" {
		return endpointSecret
	}
	return providerSecret
}

func (s *WebhookSender) post(ctx context.Context, d *Delivery, url string, body []byte, secret string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0.0")
	req.Header.Set("X-Courier-Notification-ID", d.NotificationID.String())
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Courier-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read a bounded preview for error reporting
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// SupportsType checks if this sender supports webhooks
func (s *WebhookSender) SupportsType(t channel.Type) bool {
	return t == channel.TypeWebhook
}
