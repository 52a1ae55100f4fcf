package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// WebhookChannel posts alert content to a per-user webhook URL.
type WebhookChannel struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	Timeout time.Duration
}

// webhookBody is the JSON document posted to the user's endpoint.
type webhookBody struct {
	AlertID    string     `json:"alert_id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Severity   string     `json:"severity"`
	StartTime  time.Time  `json:"start_time"`
	ExpiryTime *time.Time `json:"expiry_time,omitempty"`
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(logger *zap.Logger, cfg WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver posts the alert to the user's webhook URL.
func (c *WebhookChannel) Deliver(ctx context.Context, alert *db.Alert, user *db.User) error {
	if user.WebhookURL == nil || *user.WebhookURL == "" {
		return fmt.Errorf("user %s has no webhook URL", user.ID)
	}

	body, err := json.Marshal(webhookBody{
		AlertID:    alert.ID.String(),
		Title:      alert.Title,
		Message:    alert.Message,
		Severity:   alert.Severity,
		StartTime:  alert.StartTime,
		ExpiryTime: alert.ExpiryTime,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *user.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.logger.Info("webhook delivered",
		zap.String("alert_id", alert.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// Type returns the delivery-type identifier for this channel.
func (c *WebhookChannel) Type() string {
	return db.ChannelWebhook
}
