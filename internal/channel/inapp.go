package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// InboxPublisher pushes in-app notifications to connected dashboards.
// Implemented by the redis client (pub/sub); nil disables live push.
type InboxPublisher interface {
	PublishInbox(ctx context.Context, userID string, payload []byte) error
}

// InAppChannel is the reference channel implementation. The delivery
// record itself is the durable inbox entry; when a publisher is wired,
// the content is additionally pushed over redis pub/sub so open
// dashboards update without polling.
type InAppChannel struct {
	publisher InboxPublisher
	logger    *zap.Logger
}

// inboxMessage is the wire shape pushed to live dashboards.
type inboxMessage struct {
	AlertID  string    `json:"alert_id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	SentAt   time.Time `json:"sent_at"`
}

// NewInAppChannel creates the in-app channel. publisher may be nil.
func NewInAppChannel(publisher InboxPublisher, logger *zap.Logger) *InAppChannel {
	return &InAppChannel{
		publisher: publisher,
		logger:    logger,
	}
}

// Deliver records the in-app notification. Fails only when the live-push
// transport is wired and rejects the publish.
func (c *InAppChannel) Deliver(ctx context.Context, alert *db.Alert, user *db.User) error {
	c.logger.Info("in-app notification delivered",
		zap.String("alert_id", alert.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("severity", alert.Severity),
		zap.String("title", alert.Title),
	)

	if c.publisher == nil {
		return nil
	}

	msg := inboxMessage{
		AlertID:  alert.ID.String(),
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: alert.Severity,
		SentAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal inbox message: %w", err)
	}

	if err := c.publisher.PublishInbox(ctx, user.ID.String(), payload); err != nil {
		return fmt.Errorf("publish inbox message: %w", err)
	}
	return nil
}

// Type returns the delivery-type identifier for this channel.
func (c *InAppChannel) Type() string {
	return db.ChannelInApp
}
