// Package dispatch carries rendered notifications to their providers.
// The core never embeds provider-specific network code outside this
// package; each sender owns one channel type's mechanics.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/template"
)

// Delivery is one dispatch-ready notification: rendered content plus
// the recipient's resolved channel settings and the channel's provider
// configuration.
type Delivery struct {
	NotificationID uuid.UUID
	RecipientID    uuid.UUID
	ChannelType    channel.Type
	Content        template.Content
	Settings       preference.ChannelSettings
	Provider       channel.ProviderConfig
}

// Sender is the unified interface for all notification channels.
// Send returns an opaque provider reference for tracking.
type Sender interface {
	Send(ctx context.Context, d *Delivery) (string, error)
	SupportsType(t channel.Type) bool
}

// MultiSender routes deliveries to the sender owning their channel type.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over multiple underlying senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the first sender supporting its type.
func (m *MultiSender) Send(ctx context.Context, d *Delivery) (string, error) {
	for _, s := range m.senders {
		if s.SupportsType(d.ChannelType) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel_type", string(d.ChannelType)),
				zap.String("notification_id", d.NotificationID.String()),
			)
			return s.Send(ctx, d)
		}
	}
	return "", fmt.Errorf("no sender found for channel type: %s", d.ChannelType)
}

// SupportsType checks if any underlying sender supports the type.
func (m *MultiSender) SupportsType(t channel.Type) bool {
	for _, s := range m.senders {
		if s.SupportsType(t) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them, for development
// and tests.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) (string, error) {
	s.logger.Info("logging delivery (development mode)",
		zap.String("notification_id", d.NotificationID.String()),
		zap.String("channel_type", string(d.ChannelType)),
		zap.String("recipient_id", d.RecipientID.String()),
		zap.String("title", d.Content.Title),
	)
	return "log:" + d.NotificationID.String(), nil
}

func (s *LogSender) SupportsType(t channel.Type) bool {
	// LogSender accepts every channel type in development mode.
	return true
}
