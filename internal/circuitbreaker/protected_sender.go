package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/dispatch"
)

// ProtectedSender routes every delivery through the breaker for its
// channel type. A tripped email breaker rejects email deliveries while
// SMS, push and webhook traffic keeps flowing.
type ProtectedSender struct {
	sender   dispatch.Sender
	breakers *Set
	logger   *zap.Logger
}

func NewProtectedSender(sender dispatch.Sender, breakers *Set, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:   sender,
		breakers: breakers,
		logger:   logger,
	}
}

// Send attempts the delivery, failing fast with ErrCircuitOpen when
// the channel type's provider is considered down.
func (p *ProtectedSender) Send(ctx context.Context, d *dispatch.Delivery) (string, error) {
	b := p.breakers.For(d.ChannelType)

	if !b.Allow() {
		p.logger.Warn("delivery rejected by open circuit",
			zap.String("channel_type", string(d.ChannelType)),
			zap.String("notification_id", d.NotificationID.String()),
		)
		return "", fmt.Errorf("%s provider: %w", d.ChannelType, ErrCircuitOpen)
	}

	ref, err := p.sender.Send(ctx, d)
	if err != nil {
		b.RecordFailure()
		return "", err
	}

	b.RecordSuccess()
	return ref, nil
}

// SupportsType delegates to the wrapped sender.
func (p *ProtectedSender) SupportsType(t channel.Type) bool {
	return p.sender.SupportsType(t)
}

// Breakers exposes the set for monitoring.
func (p *ProtectedSender) Breakers() *Set {
	return p.breakers
}
