package preference

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/courier/internal/channel"
)

func boolPtr(b bool) *bool { return &b }

// daytime is well outside any test quiet window.
var daytime = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func basePref() *Preference {
	return Default(uuid.New())
}

func TestEvaluate_GlobalSwitchWinsOverEverything(t *testing.T) {
	p := basePref()
	p.Global.Enabled = false
	// A template-level allow must not rescue a global disable.
	p.Templates = []ScopedPref{{
		Name:     "welcome",
		Channels: map[channel.Type]bool{channel.TypeEmail: true},
	}}

	d := Evaluate(p, Request{
		Category: "account", Type: "welcome", Template: "welcome",
		Channel: channel.TypeEmail, Priority: PriorityUrgent,
	}, daytime)

	if d.Allowed {
		t.Fatal("global disable must deny")
	}
	if d.Scope != ScopeGlobal {
		t.Errorf("scope = %s, want global", d.Scope)
	}
}

func TestEvaluate_ChannelSwitch(t *testing.T) {
	p := basePref()
	cs := p.Channels[channel.TypeEmail]
	cs.Enabled = false
	p.Channels[channel.TypeEmail] = cs

	d := Evaluate(p, Request{Category: "billing", Type: "invoice", Channel: channel.TypeEmail}, daytime)
	if d.Allowed || d.Scope != ScopeChannel {
		t.Errorf("decision = %+v, want channel deny", d)
	}

	// An unknown channel type is treated as disabled.
	d = Evaluate(p, Request{Category: "billing", Type: "invoice", Channel: channel.Type("pager")}, daytime)
	if d.Allowed || d.Scope != ScopeChannel {
		t.Errorf("unknown channel decision = %+v, want channel deny", d)
	}
}

func TestEvaluate_DefaultAllows(t *testing.T) {
	p := basePref()
	d := Evaluate(p, Request{Category: "billing", Type: "invoice", Channel: channel.TypeEmail}, daytime)
	if !d.Allowed {
		t.Fatalf("default preference should allow: %+v", d)
	}
	if d.Scope != ScopeChannel {
		t.Errorf("scope = %s, want channel", d.Scope)
	}
}

func TestEvaluate_QuietHours(t *testing.T) {
	mkPref := func(start, end string) *Preference {
		p := basePref()
		p.Global.QuietHours = QuietHours{Enabled: true, Start: start, End: end, Timezone: "UTC"}
		return p
	}
	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name    string
		start   string
		end     string
		at      time.Time
		ch      channel.Type
		prio    Priority
		allowed bool
	}{
		{"inside simple window", "09:00", "17:00", at(12, 0), channel.TypeEmail, PriorityNormal, false},
		{"before simple window", "09:00", "17:00", at(8, 59), channel.TypeEmail, PriorityNormal, true},
		{"window start inclusive", "09:00", "17:00", at(9, 0), channel.TypeEmail, PriorityNormal, false},
		{"window end inclusive", "09:00", "17:00", at(17, 0), channel.TypeEmail, PriorityNormal, false},
		{"midnight span late evening", "22:00", "07:00", at(23, 30), channel.TypeEmail, PriorityNormal, false},
		{"midnight span early morning", "22:00", "07:00", at(6, 0), channel.TypeSMS, PriorityNormal, false},
		{"midnight span midday", "22:00", "07:00", at(12, 0), channel.TypeEmail, PriorityNormal, true},
		{"urgent bypasses quiet hours", "22:00", "07:00", at(23, 30), channel.TypeEmail, PriorityUrgent, true},
		{"in-app exempt from quiet hours", "22:00", "07:00", at(23, 30), channel.TypeInApp, PriorityLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mkPref(tt.start, tt.end)
			d := Evaluate(p, Request{
				Category: "billing", Type: "invoice",
				Channel: tt.ch, Priority: tt.prio,
			}, tt.at)
			if d.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (%+v)", d.Allowed, tt.allowed, d)
			}
			if !tt.allowed && d.Scope != ScopeQuietHours {
				t.Errorf("scope = %s, want quiet_hours", d.Scope)
			}
		})
	}
}

func TestEvaluate_QuietHoursHonorTimezone(t *testing.T) {
	p := basePref()
	p.Global.QuietHours = QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "America/New_York"}

	// 03:00 UTC is 22:00 or 23:00 in New York year-round.
	at := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	d := Evaluate(p, Request{Category: "billing", Type: "invoice", Channel: channel.TypeEmail}, at)
	if d.Allowed {
		t.Fatalf("expected quiet-hours deny in recipient timezone: %+v", d)
	}
}

func TestEvaluate_TemplateOverrideBeatsCategory(t *testing.T) {
	p := basePref()
	// Category denies email, template explicitly allows it.
	p.Categories = []CategoryPref{{
		Name:     "marketing",
		Channels: map[channel.Type]bool{channel.TypeEmail: false},
	}}
	p.Templates = []ScopedPref{{
		Name:     "weekly_digest",
		Channels: map[channel.Type]bool{channel.TypeEmail: true},
	}}

	d := Evaluate(p, Request{
		Category: "marketing", Type: "digest", Template: "weekly_digest",
		Channel: channel.TypeEmail,
	}, daytime)
	if !d.Allowed || d.Scope != ScopeTemplate {
		t.Errorf("decision = %+v, want template allow", d)
	}

	// Without the template layer the category deny applies.
	d = Evaluate(p, Request{
		Category: "marketing", Type: "digest", Channel: channel.TypeEmail,
	}, daytime)
	if d.Allowed || d.Scope != ScopeCategory {
		t.Errorf("decision = %+v, want category deny", d)
	}
}

func TestEvaluate_TemplateDisable(t *testing.T) {
	p := basePref()
	p.Templates = []ScopedPref{{Name: "noisy", Enabled: boolPtr(false)}}

	d := Evaluate(p, Request{
		Category: "ops", Type: "alert", Template: "noisy", Channel: channel.TypeEmail,
	}, daytime)
	if d.Allowed || d.Scope != ScopeTemplate {
		t.Errorf("decision = %+v, want template deny", d)
	}
}

func TestEvaluate_CategoryPriorityBeatsCategoryChannels(t *testing.T) {
	p := basePref()
	p.Categories = []CategoryPref{{
		Name:     "ops",
		Channels: map[channel.Type]bool{channel.TypeSMS: false},
		Priorities: map[Priority]PriorityOverride{
			PriorityHigh: {Channels: map[channel.Type]bool{channel.TypeSMS: true}},
		},
	}}

	// High priority: the priority override allows SMS.
	d := Evaluate(p, Request{
		Category: "ops", Type: "alert", Channel: channel.TypeSMS, Priority: PriorityHigh,
	}, daytime)
	if !d.Allowed || d.Scope != ScopeCategoryPriority {
		t.Errorf("high decision = %+v, want category_priority allow", d)
	}

	// Normal priority: no override, the category channel deny applies.
	d = Evaluate(p, Request{
		Category: "ops", Type: "alert", Channel: channel.TypeSMS, Priority: PriorityNormal,
	}, daytime)
	if d.Allowed || d.Scope != ScopeCategory {
		t.Errorf("normal decision = %+v, want category deny", d)
	}
}

func TestEvaluate_CategoryPriorityDisable(t *testing.T) {
	p := basePref()
	p.Categories = []CategoryPref{{
		Name: "marketing",
		Priorities: map[Priority]PriorityOverride{
			PriorityLow: {Enabled: boolPtr(false)},
		},
	}}

	d := Evaluate(p, Request{
		Category: "marketing", Type: "promo", Channel: channel.TypeEmail, Priority: PriorityLow,
	}, daytime)
	if d.Allowed || d.Scope != ScopeCategoryPriority {
		t.Errorf("decision = %+v, want category_priority deny", d)
	}
}

func TestEvaluate_CategoryBeatsType(t *testing.T) {
	p := basePref()
	p.Categories = []CategoryPref{{
		Name:     "billing",
		Channels: map[channel.Type]bool{channel.TypeEmail: true},
	}}
	p.Types = []ScopedPref{{
		Name:     "invoice",
		Channels: map[channel.Type]bool{channel.TypeEmail: false},
	}}

	d := Evaluate(p, Request{
		Category: "billing", Type: "invoice", Channel: channel.TypeEmail,
	}, daytime)
	if !d.Allowed || d.Scope != ScopeCategory {
		t.Errorf("decision = %+v, want category allow to win over type deny", d)
	}
}

func TestEvaluate_TypeOverride(t *testing.T) {
	p := basePref()
	p.Types = []ScopedPref{{
		Name:     "password_reset",
		Channels: map[channel.Type]bool{channel.TypeSMS: false},
	}}

	d := Evaluate(p, Request{
		Category: "account", Type: "password_reset", Channel: channel.TypeSMS,
	}, daytime)
	if d.Allowed || d.Scope != ScopeType {
		t.Errorf("decision = %+v, want type deny", d)
	}
}

func TestEvaluate_EmptyPriorityDefaultsToNormal(t *testing.T) {
	p := basePref()
	p.Categories = []CategoryPref{{
		Name: "ops",
		Priorities: map[Priority]PriorityOverride{
			PriorityNormal: {Channels: map[channel.Type]bool{channel.TypeEmail: false}},
		},
	}}

	d := Evaluate(p, Request{Category: "ops", Type: "alert", Channel: channel.TypeEmail}, daytime)
	if d.Allowed || d.Scope != ScopeCategoryPriority {
		t.Errorf("decision = %+v, want normal-priority override applied", d)
	}
}

func TestInQuietWindow_InvalidTimesFailOpen(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "25:00", End: "07:00", Timezone: "UTC"}
	if inQuietWindow(q, daytime) {
		t.Error("invalid window must never suppress")
	}
	q = QuietHours{Enabled: true, Start: "22:00", End: "bad", Timezone: "UTC"}
	if inQuietWindow(q, daytime) {
		t.Error("invalid window must never suppress")
	}
}

func TestInQuietWindow_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "13:00", End: "15:00", Timezone: "Mars/Olympus"}
	if !inQuietWindow(q, daytime) {
		t.Error("unknown timezone should evaluate in UTC")
	}
}

func TestDeliverySettings_FiltersInactive(t *testing.T) {
	p := basePref()
	p.Channels[channel.TypePush] = ChannelSettings{
		Enabled: true,
		Tokens: []PushToken{
			{Token: "active-1"},
			{Token: "dead", Deactivated: true},
			{Token: "active-2"},
		},
	}
	p.Channels[channel.TypeWebhook] = ChannelSettings{
		Enabled: true,
		Endpoints: []WebhookEndpoint{
			{URL: "https://a.example.com", Active: true},
			{URL: "https://b.example.com", Active: false},
		},
	}

	push := DeliverySettings(p, "ops", "alert", channel.TypePush)
	if len(push.Tokens) != 2 {
		t.Fatalf("tokens = %d, want deactivated filtered out", len(push.Tokens))
	}
	for _, tok := range push.Tokens {
		if tok.Deactivated {
			t.Error("deactivated token survived filtering")
		}
	}

	wh := DeliverySettings(p, "ops", "alert", channel.TypeWebhook)
	if len(wh.Endpoints) != 1 || wh.Endpoints[0].URL != "https://a.example.com" {
		t.Errorf("endpoints = %+v, want only the active one", wh.Endpoints)
	}
}

func TestDeliverySettings_FrequencyOverrides(t *testing.T) {
	p := basePref()
	p.Categories = []CategoryPref{{Name: "marketing", EmailFrequency: FrequencyDailyDigest}}
	p.Types = []ScopedPref{{Name: "promo", EmailFrequency: FrequencyHourlyDigest}}

	// Type beats category beats base.
	s := DeliverySettings(p, "marketing", "promo", channel.TypeEmail)
	if s.Frequency != FrequencyHourlyDigest {
		t.Errorf("frequency = %q, want type override", s.Frequency)
	}

	s = DeliverySettings(p, "marketing", "other", channel.TypeEmail)
	if s.Frequency != FrequencyDailyDigest {
		t.Errorf("frequency = %q, want category override", s.Frequency)
	}

	s = DeliverySettings(p, "billing", "invoice", channel.TypeEmail)
	if s.Frequency != FrequencyImmediate {
		t.Errorf("frequency = %q, want base immediate", s.Frequency)
	}

	// Frequency overrides never apply off the email channel.
	s = DeliverySettings(p, "marketing", "promo", channel.TypeSMS)
	if s.Frequency != "" {
		t.Errorf("sms frequency = %q, want untouched", s.Frequency)
	}
}

func TestAddPushToken_UpsertsByValue(t *testing.T) {
	p := basePref()
	now := time.Now()

	AddPushToken(p, "tok-1", "ios", "iPhone", now)
	AddPushToken(p, "tok-2", "android", "Pixel", now)

	later := now.Add(time.Hour)
	AddPushToken(p, "tok-1", "ios", "iPhone 16", later)

	tokens := p.Channels[channel.TypePush].Tokens
	if len(tokens) != 2 {
		t.Fatalf("tokens = %d, want 2 (upsert, not append)", len(tokens))
	}
	if tokens[0].Device != "iPhone 16" || !tokens[0].LastUsed.Equal(later) {
		t.Errorf("token not refreshed in place: %+v", tokens[0])
	}
	if !tokens[0].CreatedAt.Equal(now) {
		t.Error("upsert must not reset created_at")
	}
}

func TestAddPushToken_ReactivatesDeactivated(t *testing.T) {
	p := basePref()
	now := time.Now()
	AddPushToken(p, "tok-1", "ios", "", now)

	settings := p.Channels[channel.TypePush]
	settings.Tokens[0].Deactivated = true
	p.Channels[channel.TypePush] = settings

	AddPushToken(p, "tok-1", "ios", "", now.Add(time.Minute))
	if p.Channels[channel.TypePush].Tokens[0].Deactivated {
		t.Error("re-registering a token should reactivate it")
	}
}

func TestRemovePushToken(t *testing.T) {
	p := basePref()
	AddPushToken(p, "tok-1", "ios", "", time.Now())
	AddPushToken(p, "tok-2", "android", "", time.Now())

	if !RemovePushToken(p, "tok-1") {
		t.Fatal("removal of existing token should report found")
	}
	tokens := p.Channels[channel.TypePush].Tokens
	if len(tokens) != 1 || tokens[0].Token != "tok-2" {
		t.Errorf("tokens = %+v, want only tok-2", tokens)
	}

	if RemovePushToken(p, "ghost") {
		t.Error("removal of unknown token should report not found")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"low", PriorityLow},
		{"urgent", PriorityUrgent},
		{"", PriorityNormal},
		{"critical", PriorityNormal},
	}
	for _, tt := range tests {
		if got := ParsePriority(tt.in); got != tt.want {
			t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
