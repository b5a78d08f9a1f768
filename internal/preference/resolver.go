package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lalithlochan/courier/internal/channel"
)

// Scope names the preference tier that decided a delivery.
type Scope string

const (
	ScopeGlobal           Scope = "global"
	ScopeChannel          Scope = "channel"
	ScopeQuietHours       Scope = "quiet_hours"
	ScopeTemplate         Scope = "template"
	ScopeCategoryPriority Scope = "category_priority"
	ScopeCategory         Scope = "category"
	ScopeType             Scope = "type"
)

// Request is the notification context a preference is evaluated against.
type Request struct {
	Category string
	Type     string
	Template string
	Channel  channel.Type
	Priority Priority
}

// Decision is the outcome of evaluating a preference: whether to
// deliver, and which tier decided.
type Decision struct {
	Allowed bool
	Scope   Scope
	Reason  string
}

func allow(scope Scope, reason string) *Decision {
	return &Decision{Allowed: true, Scope: scope, Reason: reason}
}

func deny(scope Scope, reason string) *Decision {
	return &Decision{Allowed: false, Scope: scope, Reason: reason}
}

// Evaluate decides whether a notification reaches the recipient.
//
// The tiers run in fixed precedence order, each short-circuiting on a
// definitive answer: global switch, channel switch, quiet hours,
// template override, category priority override, category override,
// type override, then the channel's own enabled flag. The tiers are an
// ordered rule list scanned linearly so the precedence is visible in
// one place.
func Evaluate(p *Preference, req Request, at time.Time) Decision {
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	rules := []func() *Decision{
		func() *Decision {
			if !p.Global.Enabled {
				return deny(ScopeGlobal, "notifications disabled globally")
			}
			return nil
		},
		func() *Decision {
			cs, ok := p.Channels[req.Channel]
			if !ok || !cs.Enabled {
				return deny(ScopeChannel, fmt.Sprintf("channel %s disabled", req.Channel))
			}
			return nil
		},
		func() *Decision {
			// Urgent bypasses quiet hours; in-app is never suppressed.
			if req.Channel == channel.TypeInApp || req.Priority == PriorityUrgent {
				return nil
			}
			if p.Global.QuietHours.Enabled && inQuietWindow(p.Global.QuietHours, at) {
				return deny(ScopeQuietHours, "suppressed by quiet hours")
			}
			return nil
		},
		func() *Decision {
			tp := p.templatePref(req.Template)
			if tp == nil {
				return nil
			}
			if tp.Enabled != nil && !*tp.Enabled {
				return deny(ScopeTemplate, fmt.Sprintf("template %s disabled", req.Template))
			}
			if v, ok := tp.Channels[req.Channel]; ok {
				if v {
					return allow(ScopeTemplate, fmt.Sprintf("template %s override", req.Template))
				}
				return deny(ScopeTemplate, fmt.Sprintf("template %s disabled for %s", req.Template, req.Channel))
			}
			return nil
		},
		func() *Decision {
			cat := p.category(req.Category)
			if cat == nil {
				return nil
			}
			if cat.Enabled != nil && !*cat.Enabled {
				return deny(ScopeCategory, fmt.Sprintf("category %s disabled", req.Category))
			}
			if po, ok := cat.Priorities[req.Priority]; ok {
				if po.Enabled != nil && !*po.Enabled {
					return deny(ScopeCategoryPriority, fmt.Sprintf("category %s disabled for %s priority", req.Category, req.Priority))
				}
				if v, ok := po.Channels[req.Channel]; ok {
					if v {
						return allow(ScopeCategoryPriority, fmt.Sprintf("category %s %s-priority override", req.Category, req.Priority))
					}
					return deny(ScopeCategoryPriority, fmt.Sprintf("category %s disables %s at %s priority", req.Category, req.Channel, req.Priority))
				}
			}
			if v, ok := cat.Channels[req.Channel]; ok {
				if v {
					return allow(ScopeCategory, fmt.Sprintf("category %s override", req.Category))
				}
				return deny(ScopeCategory, fmt.Sprintf("category %s disabled for %s", req.Category, req.Channel))
			}
			return nil
		},
		func() *Decision {
			tp := p.typePref(req.Type)
			if tp == nil {
				return nil
			}
			if tp.Enabled != nil && !*tp.Enabled {
				return deny(ScopeType, fmt.Sprintf("type %s disabled", req.Type))
			}
			if v, ok := tp.Channels[req.Channel]; ok {
				if v {
					return allow(ScopeType, fmt.Sprintf("type %s override", req.Type))
				}
				return deny(ScopeType, fmt.Sprintf("type %s disabled for %s", req.Type, req.Channel))
			}
			return nil
		},
	}

	for _, rule := range rules {
		if d := rule(); d != nil {
			return *d
		}
	}

	// The channel flag was already checked true above.
	return Decision{Allowed: true, Scope: ScopeChannel, Reason: fmt.Sprintf("channel %s enabled", req.Channel)}
}

// inQuietWindow reports whether "at", converted to the window's
// timezone and reduced to minutes since midnight, falls inside the
// window. Windows with start > end span midnight. Both ends inclusive.
func inQuietWindow(q QuietHours, at time.Time) bool {
	start, err := parseMinutes(q.Start)
	if err != nil {
		return false
	}
	end, err := parseMinutes(q.End)
	if err != nil {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	now := local.Hour()*60 + local.Minute()

	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// DeliverySettings builds the channel-specific settings for one
// delivery: the base channel configuration with push tokens filtered to
// active devices and webhook endpoints filtered to active targets, then
// category and type email-frequency overrides applied in that order
// (type beats category beats base).
func DeliverySettings(p *Preference, category, typ string, ch channel.Type) ChannelSettings {
	settings := p.Channels[ch]

	if len(settings.Tokens) > 0 {
		tokens := make([]PushToken, 0, len(settings.Tokens))
		for _, t := range settings.Tokens {
			if !t.Deactivated {
				tokens = append(tokens, t)
			}
		}
		settings.Tokens = tokens
	}

	if len(settings.Endpoints) > 0 {
		endpoints := make([]WebhookEndpoint, 0, len(settings.Endpoints))
		for _, e := range settings.Endpoints {
			if e.Active {
				endpoints = append(endpoints, e)
			}
		}
		settings.Endpoints = endpoints
	}

	if ch == channel.TypeEmail {
		if cat := p.category(category); cat != nil && cat.EmailFrequency != "" {
			settings.Frequency = cat.EmailFrequency
		}
		if tp := p.typePref(typ); tp != nil && tp.EmailFrequency != "" {
			settings.Frequency = tp.EmailFrequency
		}
	}

	return settings
}
