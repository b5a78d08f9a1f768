// Package channel models delivery channels and resolves which channel
// serves a delivery attempt.
package channel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the delivery mechanism a channel speaks.
type Type string

const (
	TypeEmail   Type = "email"
	TypeSMS     Type = "sms"
	TypePush    Type = "push"
	TypeWebhook Type = "webhook"
	TypeInApp   Type = "inapp"
	TypeCustom  Type = "custom"
)

// Status constants
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
	StatusError    Status = "error"
)

// Outcome is a delivery result recorded against a channel's stats.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// TagDefault marks the preferred channel of its type.
const TagDefault = "default"

// Capabilities describes what a channel's provider can do.
type Capabilities struct {
	Templates   bool `json:"templates"`
	Attachments bool `json:"attachments"`
	BulkSend    bool `json:"bulk_send"`
	Scheduling  bool `json:"scheduling"`
	Tracking    bool `json:"tracking"`
}

// RateLimit is the per-channel throughput cap.
type RateLimit struct {
	Enabled       bool `json:"enabled"`
	Limit         int  `json:"limit"`
	WindowSeconds int  `json:"window_seconds"`
}

// Window returns the rate limit window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// DeliveryStats accumulates send outcomes for a channel.
type DeliveryStats struct {
	Sent       int64      `json:"sent"`
	Delivered  int64      `json:"delivered"`
	Failed     int64      `json:"failed"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// Channel is a named provider configuration for one channel type.
// Position records creation order and is the stable tie-break when no
// channel of a type carries the default tag.
type Channel struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Type         Type           `json:"type"`
	Status       Status         `json:"status"`
	Provider     ProviderConfig `json:"-"`
	Capabilities Capabilities   `json:"capabilities"`
	RateLimit    RateLimit      `json:"rate_limit"`
	Stats        DeliveryStats  `json:"stats"`
	Tags         []string       `json:"tags"`
	Position     int            `json:"position"`
	LastError    *string        `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasTag reports whether the channel carries the given tag.
func (c *Channel) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ActiveByType returns all active channels of a type in creation order.
func ActiveByType(channels []*Channel, t Type) []*Channel {
	var out []*Channel
	for _, c := range channels {
		if c.Type == t && c.Status == StatusActive {
			out = append(out, c)
		}
	}
	return out
}

// DefaultByType picks the channel that serves deliveries of a type:
// the first active channel tagged "default", else the first active
// channel in creation order, else nil. An inactive channel never wins,
// tagged or not.
func DefaultByType(channels []*Channel, t Type) *Channel {
	active := ActiveByType(channels, t)
	if len(active) == 0 {
		return nil
	}
	for _, c := range active {
		if c.HasTag(TagDefault) {
			return c
		}
	}
	return active[0]
}

// ApplyOutcome increments the matching stats counter in place.
// An unrecognized outcome is a programmer error and is reported, never
// silently ignored. OutcomeSent also stamps LastSentAt.
func ApplyOutcome(c *Channel, o Outcome, at time.Time) error {
	switch o {
	case OutcomeSent:
		c.Stats.Sent++
		c.Stats.LastSentAt = &at
	case OutcomeDelivered:
		c.Stats.Delivered++
	case OutcomeFailed:
		c.Stats.Failed++
	default:
		return fmt.Errorf("unknown delivery outcome: %q", o)
	}
	return nil
}
