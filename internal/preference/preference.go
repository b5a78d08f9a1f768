// Package preference models per-recipient notification preferences and
// resolves whether and how a notification reaches its recipient.
package preference

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/courier/internal/channel"
)

// Priority of a notification. Urgent bypasses quiet hours.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a raw string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Email delivery frequencies.
const (
	FrequencyImmediate   = "immediate"
	FrequencyHourlyDigest = "hourly_digest"
	FrequencyDailyDigest  = "daily_digest"
)

// QuietHours is a recipient-configured window, in the recipient's
// timezone, during which non-urgent notifications on non-in-app
// channels are suppressed. Start and End are "HH:MM"; a window with
// Start > End spans midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Global holds the recipient's top-level switches.
type Global struct {
	Enabled    bool       `json:"enabled"`
	QuietHours QuietHours `json:"quiet_hours"`
}

// PushToken is one registered device token.
type PushToken struct {
	Token       string    `json:"token"`
	Platform    string    `json:"platform"`
	Device      string    `json:"device,omitempty"`
	Deactivated bool      `json:"deactivated,omitempty"`
	LastUsed    time.Time `json:"last_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookEndpoint is one recipient-registered webhook target.
type WebhookEndpoint struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
	Active bool   `json:"active"`
}

// ChannelSettings is the recipient's configuration for one channel type.
// Only the fields matching the channel type are meaningful.
type ChannelSettings struct {
	Enabled bool `json:"enabled"`

	// email
	Address   string `json:"address,omitempty"`
	Frequency string `json:"frequency,omitempty"`

	// sms
	PhoneNumber string `json:"phone_number,omitempty"`

	// push
	Tokens []PushToken `json:"tokens,omitempty"`

	// webhook
	Endpoints []WebhookEndpoint `json:"endpoints,omitempty"`

	// in-app
	ShowBadge bool `json:"show_badge,omitempty"`
	PlaySound bool `json:"play_sound,omitempty"`
}

// PriorityOverride can override enablement and per-channel booleans for
// one priority level within a category.
type PriorityOverride struct {
	Enabled  *bool                 `json:"enabled,omitempty"`
	Channels map[channel.Type]bool `json:"channels,omitempty"`
}

// CategoryPref is a category-level preference layer.
type CategoryPref struct {
	Name           string                        `json:"name"`
	Enabled        *bool                         `json:"enabled,omitempty"`
	Channels       map[channel.Type]bool         `json:"channels,omitempty"`
	Priorities     map[Priority]PriorityOverride `json:"priorities,omitempty"`
	EmailFrequency string                        `json:"email_frequency,omitempty"`
}

// ScopedPref is a type- or template-level preference layer.
type ScopedPref struct {
	Name           string                `json:"name"`
	Enabled        *bool                 `json:"enabled,omitempty"`
	Channels       map[channel.Type]bool `json:"channels,omitempty"`
	EmailFrequency string                `json:"email_frequency,omitempty"`
}

// Preference is the one-per-recipient preference document. Absence of a
// stored document is not an error; Default materializes one.
type Preference struct {
	RecipientID uuid.UUID                        `json:"recipient_id"`
	Global      Global                           `json:"global"`
	Channels    map[channel.Type]ChannelSettings `json:"channels"`
	Categories  []CategoryPref                   `json:"categories,omitempty"`
	Types       []ScopedPref                     `json:"types,omitempty"`
	Templates   []ScopedPref                     `json:"templates,omitempty"`
	CreatedAt   time.Time                        `json:"created_at"`
	UpdatedAt   time.Time                        `json:"updated_at"`
}

// Default returns the preference document used when a recipient has
// never written one: globally enabled, quiet hours off, every standard
// channel enabled.
func Default(recipientID uuid.UUID) *Preference {
	now := time.Now()
	return &Preference{
		RecipientID: recipientID,
		Global: Global{
			Enabled: true,
			QuietHours: QuietHours{
				Enabled:  false,
				Start:    "22:00",
				End:      "07:00",
				Timezone: "UTC",
			},
		},
		Channels: map[channel.Type]ChannelSettings{
			channel.TypeEmail:   {Enabled: true, Frequency: FrequencyImmediate},
			channel.TypeSMS:     {Enabled: true},
			channel.TypePush:    {Enabled: true},
			channel.TypeWebhook: {Enabled: true},
			channel.TypeInApp:   {Enabled: true, ShowBadge: true, PlaySound: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Preference) category(name string) *CategoryPref {
	for i := range p.Categories {
		if p.Categories[i].Name == name {
			return &p.Categories[i]
		}
	}
	return nil
}

func (p *Preference) typePref(name string) *ScopedPref {
	for i := range p.Types {
		if p.Types[i].Name == name {
			return &p.Types[i]
		}
	}
	return nil
}

func (p *Preference) templatePref(name string) *ScopedPref {
	for i := range p.Templates {
		if p.Templates[i].Name == name {
			return &p.Templates[i]
		}
	}
	return nil
}
