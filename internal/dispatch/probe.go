package dispatch

import (
	"context"
	"fmt"

	"github.com/lalithlochan/courier/internal/channel"
)

// CapabilityProbe verifies that a channel is deliverable with the
// configured senders: the sender stack must speak the channel's type
// and the provider config must match it. No message is sent.
type CapabilityProbe struct {
	sender Sender
}

func NewCapabilityProbe(sender Sender) *CapabilityProbe {
	return &CapabilityProbe{sender: sender}
}

func (p *CapabilityProbe) Probe(ctx context.Context, ch *channel.Channel) error {
	if !p.sender.SupportsType(ch.Type) {
		return fmt.Errorf("no sender configured for channel type %s", ch.Type)
	}
	if ch.Provider == nil {
		return fmt.Errorf("channel %s has no provider config", ch.Name)
	}
	if got := ch.Provider.ChannelType(); got != ch.Type {
		return fmt.Errorf("provider config is for %s, channel type is %s", got, ch.Type)
	}
	return nil
}
