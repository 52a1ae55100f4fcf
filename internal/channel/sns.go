package channel

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// maxSMSBodyLen keeps SMS bodies inside a single segment after the
// severity/title prefix.
const maxSMSBodyLen = 120

// SMSChannel delivers alerts as SMS via AWS SNS.
type SMSChannel struct {
	client *sns.Client
	logger *zap.Logger
}

type SMSConfig struct {
	Region string
}

// NewSMSChannel creates an SNS-backed SMS channel.
func NewSMSChannel(ctx context.Context, cfg SMSConfig, logger *zap.Logger) (*SMSChannel, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &SMSChannel{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Deliver sends the alert to the user's phone number.
func (c *SMSChannel) Deliver(ctx context.Context, alert *db.Alert, user *db.User) error {
	if user.Phone == nil || *user.Phone == "" {
		return fmt.Errorf("user %s has no phone number", user.ID)
	}

	body := truncateSMSBody(alert.Message)
	message := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(alert.Severity), alert.Title, body)

	input := &sns.PublishInput{
		PhoneNumber: user.Phone,
		Message:     aws.String(message),
	}

	result, err := c.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	c.logger.Info("SMS delivered via SNS",
		zap.String("alert_id", alert.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

// Type returns the delivery-type identifier for this channel.
func (c *SMSChannel) Type() string {
	return db.ChannelSMS
}

// truncateSMSBody caps the body at maxSMSBodyLen bytes without splitting
// a multibyte rune at the cut point.
func truncateSMSBody(body string) string {
	if len(body) <= maxSMSBodyLen {
		return body
	}
	cut := maxSMSBodyLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
