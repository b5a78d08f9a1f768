package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderConfig is the provider-specific configuration of a channel.
// One variant exists per channel type, so components switch on the
// concrete type instead of digging through a dynamic settings bag.
type ProviderConfig interface {
	ChannelType() Type
}

// EmailProvider configures an SES-backed email channel.
type EmailProvider struct {
	Region      string `json:"region"`
	FromAddress string `json:"from_address"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

func (EmailProvider) ChannelType() Type { return TypeEmail }

// SMSProvider configures an SNS SMS channel.
type SMSProvider struct {
	Region   string `json:"region"`
	SenderID string `json:"sender_id,omitempty"`
}

func (SMSProvider) ChannelType() Type { return TypeSMS }

// PushProvider configures an SNS mobile-push channel.
type PushProvider struct {
	Region      string `json:"region"`
	PlatformARN string `json:"platform_arn,omitempty"`
}

func (PushProvider) ChannelType() Type { return TypePush }

// WebhookProvider configures outbound webhook delivery.
type WebhookProvider struct {
	SigningSecret  string `json:"signing_secret,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (WebhookProvider) ChannelType() Type { return TypeWebhook }

// Timeout returns the request timeout, defaulting to 30s.
func (w WebhookProvider) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// InAppProvider configures the in-app channel.
type InAppProvider struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

func (InAppProvider) ChannelType() Type { return TypeInApp }

// CustomProvider carries opaque settings for custom integrations.
type CustomProvider struct {
	Settings map[string]string `json:"settings,omitempty"`
}

func (CustomProvider) ChannelType() Type { return TypeCustom }

type providerEnvelope struct {
	Type   Type            `json:"type"`
	Config json.RawMessage `json:"config"`
}

// EncodeProvider serializes a provider config with its type discriminator
// for jsonb storage.
func EncodeProvider(p ProviderConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil provider config")
	}
	cfg, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal provider config: %w", err)
	}
	return json.Marshal(providerEnvelope{Type: p.ChannelType(), Config: cfg})
}

// DecodeProvider deserializes a provider config stored by EncodeProvider.
func DecodeProvider(data []byte) (ProviderConfig, error) {
	var env providerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal provider envelope: %w", err)
	}

	var p ProviderConfig
	switch env.Type {
	case TypeEmail:
		p = &EmailProvider{}
	case TypeSMS:
		p = &SMSProvider{}
	case TypePush:
		p = &PushProvider{}
	case TypeWebhook:
		p = &WebhookProvider{}
	case TypeInApp:
		p = &InAppProvider{}
	case TypeCustom:
		p = &CustomProvider{}
	default:
		return nil, fmt.Errorf("unknown provider type: %q", env.Type)
	}

	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, p); err != nil {
			return nil, fmt.Errorf("unmarshal %s provider config: %w", env.Type, err)
		}
	}
	return deref(p), nil
}

// deref returns the value form so callers can type-switch on the
// same concrete types they constructed.
func deref(p ProviderConfig) ProviderConfig {
	switch v := p.(type) {
	case *EmailProvider:
		return *v
	case *SMSProvider:
		return *v
	case *PushProvider:
		return *v
	case *WebhookProvider:
		return *v
	case *InAppProvider:
		return *v
	case *CustomProvider:
		return *v
	default:
		return p
	}
}
