package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// PushSender sends push deliveries via SNS platform endpoints, one
// publish per registered device token.
type PushSender struct {
	client *sns.Client
	logger *zap.Logger
}

type PushConfig struct {
	Region string
}

func NewPushSender(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*PushSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for push: %w", err)
	}

	return &PushSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	ShowBadge bool   `json:"show_badge"`
	PlaySound bool   `json:"play_sound"`
}

// Send publishes the rendered content to every active device token.
// A delivery counts as sent when at least one token succeeds; the
// reference is the first successful message id.
func (s *PushSender) Send(ctx context.Context, d *Delivery) (string, error) {
	if d.ChannelType != channel.TypePush {
		return "", fmt.Errorf("push sender only supports push, got: %s", d.ChannelType)
	}

	if len(d.Settings.Tokens) == 0 {
		return "", fmt.Errorf("push delivery has no active device tokens")
	}

	msg, err := json.Marshal(pushMessage{
		Title:     d.Content.Title,
		Body:      d.Content.Body,
		ShowBadge: d.Settings.ShowBadge,
		PlaySound: d.Settings.PlaySound,
	})
	if err != nil {
		return "", fmt.Errorf("marshal push message: %w", err)
	}

	var ref string
	var sent int
	var lastErr error
	for _, token := range d.Settings.Tokens {
		result, err := s.client.Publish(ctx, &sns.PublishInput{
			TargetArn: aws.String(token.Token),
			Message:   aws.String(string(msg)),
		})
		if err != nil {
			lastErr = err
			s.logger.Warn("push publish failed for device",
				zap.String("notification_id", d.NotificationID.String()),
				zap.String("platform", token.Platform),
				zap.Error(err),
			)
			continue
		}
		sent++
		if ref == "" {
			ref = *result.MessageId
		}
	}

	if sent == 0 {
		return "", fmt.Errorf("push publish failed for all %d devices: %w", len(d.Settings.Tokens), lastErr)
	}

	s.logger.Info("push sent via SNS",
		zap.String("notification_id", d.NotificationID.String()),
		zap.Int("devices", sent),
		zap.Int("failed_devices", len(d.Settings.Tokens)-sent),
	)

	return ref, nil
}

// SupportsType checks if this sender supports the push channel
func (s *PushSender) SupportsType(t channel.Type) bool {
	return t == channel.TypePush
}
