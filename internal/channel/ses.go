package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// EmailChannel delivers alerts as email via AWS SES.
type EmailChannel struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type EmailConfig struct {
	Region    string
	FromEmail string
}

// NewEmailChannel creates an SES-backed email channel.
func NewEmailChannel(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailChannel, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &EmailChannel{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Deliver sends the alert to the user's email address.
func (c *EmailChannel) Deliver(ctx context.Context, alert *db.Alert, user *db.User) error {
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), alert.Title)

	input := &ses.SendEmailInput{
		Source: aws.String(c.from),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(alert.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := c.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	c.logger.Info("email delivered via SES",
		zap.String("alert_id", alert.ID.String()),
		zap.String("to", user.Email),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

// Type returns the delivery-type identifier for this channel.
func (c *EmailChannel) Type() string {
	return db.ChannelEmail
}
