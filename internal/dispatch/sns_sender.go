package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// SNSSender sends SMS deliveries via AWS SNS.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS deliveries
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send sends an SMS via AWS SNS. The phone number comes from the
// recipient's resolved SMS settings; an optional sender ID comes from
// the channel's provider config.
func (s *SNSSender) Send(ctx context.Context, d *Delivery) (string, error) {
	if d.ChannelType != channel.TypeSMS {
		return "", fmt.Errorf("SNS sender only supports SMS, got: %s", d.ChannelType)
	}

	if d.Settings.PhoneNumber == "" {
		return "", fmt.Errorf("sms delivery missing phone number")
	}
	if d.Content.Body == "" {
		return "", fmt.Errorf("sms delivery missing body")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(d.Settings.PhoneNumber),
		Message:     aws.String(d.Content.Body),
	}
	if sp, ok := d.Provider.(channel.SMSProvider); ok && sp.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(sp.SenderID),
			},
		}
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("notification_id", d.NotificationID.String()),
		zap.String("phone_number", d.Settings.PhoneNumber),
		zap.String("message_id", *result.MessageId),
	)

	return *result.MessageId, nil
}

// SupportsType checks if this sender supports the SMS channel
func (s *SNSSender) SupportsType(t channel.Type) bool {
	return t == channel.TypeSMS
}
