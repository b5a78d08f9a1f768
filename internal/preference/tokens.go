package preference

import (
	"time"

	"github.com/lalithlochan/courier/internal/channel"
)

// AddPushToken upserts a device token by token value: an existing entry
// has its platform, device, and last-used stamp updated in place; a new
// token is appended. The caller is responsible for persisting the
// document atomically (the store does this under a row lock).
func AddPushToken(p *Preference, token, platform, device string, now time.Time) {
	if p.Channels == nil {
		p.Channels = map[channel.Type]ChannelSettings{}
	}
	settings := p.Channels[channel.TypePush]

	for i := range settings.Tokens {
		if settings.Tokens[i].Token == token {
			settings.Tokens[i].Platform = platform
			settings.Tokens[i].Device = device
			settings.Tokens[i].LastUsed = now
			settings.Tokens[i].Deactivated = false
			p.Channels[channel.TypePush] = settings
			return
		}
	}

	settings.Tokens = append(settings.Tokens, PushToken{
		Token:     token,
		Platform:  platform,
		Device:    device,
		LastUsed:  now,
		CreatedAt: now,
	})
	p.Channels[channel.TypePush] = settings
}

// RemovePushToken filters a token out of the document. Returns whether
// the token was present.
func RemovePushToken(p *Preference, token string) bool {
	settings, ok := p.Channels[channel.TypePush]
	if !ok {
		return false
	}

	found := false
	tokens := settings.Tokens[:0]
	for _, t := range settings.Tokens {
		if t.Token == token {
			found = true
			continue
		}
		tokens = append(tokens, t)
	}
	settings.Tokens = tokens
	p.Channels[channel.TypePush] = settings
	return found
}
