package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// Publisher fans a payload out to connected clients. Backed by Redis
// pub/sub in production.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// InAppSender delivers in-app notifications by publishing to the
// recipient's feed channel. The notification row itself is the durable
// copy; the publish only wakes live connections.
type InAppSender struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewInAppSender(publisher Publisher, logger *zap.Logger) *InAppSender {
	return &InAppSender{
		publisher: publisher,
		logger:    logger,
	}
}

// FeedChannel is the pub/sub channel carrying a recipient's live feed.
func FeedChannel(recipientID string) string {
	return "inapp:" + recipientID
}

type inAppEvent struct {
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ShowBadge      bool   `json:"show_badge"`
	PlaySound      bool   `json:"play_sound"`
	SentAt         string `json:"sent_at"`
}

func (s *InAppSender) Send(ctx context.Context, d *Delivery) (string, error) {
	if d.ChannelType != channel.TypeInApp {
		return "", fmt.Errorf("in-app sender only supports in-app, got: %s", d.ChannelType)
	}

	payload, err := json.Marshal(inAppEvent{
		NotificationID: d.NotificationID.String(),
		Title:          d.Content.Title,
		Body:           d.Content.Body,
		ShowBadge:      d.Settings.ShowBadge,
		PlaySound:      d.Settings.PlaySound,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal in-app event: %w", err)
	}

	feed := FeedChannel(d.RecipientID.String())
	if err := s.publisher.Publish(ctx, feed, payload); err != nil {
		return "", fmt.Errorf("publish in-app event: %w", err)
	}

	s.logger.Info("in-app notification published",
		zap.String("notification_id", d.NotificationID.String()),
		zap.String("feed", feed),
	)

	return "inapp:" + d.NotificationID.String(), nil
}

func (s *InAppSender) SupportsType(t channel.Type) bool {
	return t == channel.TypeInApp
}
