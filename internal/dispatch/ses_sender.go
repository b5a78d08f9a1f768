package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// SESSender sends email deliveries via AWS SES.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends an email via AWS SES. The destination address comes from
// the recipient's resolved email settings; the from address comes from
// the channel's provider config, falling back to the service default.
func (s *SESSender) Send(ctx context.Context, d *Delivery) (string, error) {
	if d.ChannelType != channel.TypeEmail {
		return "", fmt.Errorf("SES sender only supports email, got: %s", d.ChannelType)
	}

	if d.Settings.Address == "" {
		return "", fmt.Errorf("email delivery missing recipient address")
	}
	if d.Content.Subject == "" {
		return "", fmt.Errorf("email delivery missing subject")
	}
	if d.Content.Body == "" {
		return "", fmt.Errorf("email delivery missing body")
	}

	from := s.from
	var replyTo []string
	if ep, ok := d.Provider.(channel.EmailProvider); ok {
		if ep.FromAddress != "" {
			from = ep.FromAddress
		}
		if ep.ReplyTo != "" {
			replyTo = []string{ep.ReplyTo}
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Settings.Address},
		},
		ReplyToAddresses: replyTo,
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Content.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(d.Content.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("notification_id", d.NotificationID.String()),
		zap.String("to", d.Settings.Address),
		zap.String("message_id", *result.MessageId),
	)

	return *result.MessageId, nil
}

// SupportsType checks if this sender supports the email channel
func (s *SESSender) SupportsType(t channel.Type) bool {
	return t == channel.TypeEmail
}
