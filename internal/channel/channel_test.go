package channel

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mkChannel(name string, t Type, status Status, tags ...string) *Channel {
	return &Channel{
		ID:     uuid.New(),
		Name:   name,
		Type:   t,
		Status: status,
		Tags:   tags,
	}
}

func TestDefaultByType(t *testing.T) {
	tests := []struct {
		name     string
		channels []*Channel
		typ      Type
		want     string // channel name, "" for nil
	}{
		{
			name: "default tag wins over creation order",
			channels: []*Channel{
				mkChannel("first", TypeEmail, StatusActive),
				mkChannel("tagged", TypeEmail, StatusActive, TagDefault),
			},
			typ:  TypeEmail,
			want: "tagged",
		},
		{
			name: "creation order breaks ties without a tag",
			channels: []*Channel{
				mkChannel("first", TypeEmail, StatusActive),
				mkChannel("second", TypeEmail, StatusActive),
			},
			typ:  TypeEmail,
			want: "first",
		},
		{
			name: "inactive default tag never wins",
			channels: []*Channel{
				mkChannel("tagged-but-down", TypeEmail, StatusInactive, TagDefault),
				mkChannel("fallback", TypeEmail, StatusActive),
			},
			typ:  TypeEmail,
			want: "fallback",
		},
		{
			name: "errored channel is not active",
			channels: []*Channel{
				mkChannel("broken", TypeSMS, StatusError),
			},
			typ:  TypeSMS,
			want: "",
		},
		{
			name: "type mismatch excluded",
			channels: []*Channel{
				mkChannel("mail", TypeEmail, StatusActive, TagDefault),
			},
			typ:  TypeSMS,
			want: "",
		},
		{
			name:     "no channels at all",
			channels: nil,
			typ:      TypeEmail,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultByType(tt.channels, tt.typ)
			if tt.want == "" {
				if got != nil {
					t.Errorf("got %s, want nil", got.Name)
				}
				return
			}
			if got == nil || got.Name != tt.want {
				t.Errorf("got %v, want %s", got, tt.want)
			}
		})
	}
}

func TestActiveByType_PreservesOrder(t *testing.T) {
	channels := []*Channel{
		mkChannel("a", TypeEmail, StatusActive),
		mkChannel("b", TypeEmail, StatusInactive),
		mkChannel("c", TypeEmail, StatusActive),
		mkChannel("d", TypeSMS, StatusActive),
	}

	active := ActiveByType(channels, TypeEmail)
	if len(active) != 2 || active[0].Name != "a" || active[1].Name != "c" {
		t.Errorf("active = %v", active)
	}
}

func TestApplyOutcome(t *testing.T) {
	c := mkChannel("x", TypeEmail, StatusActive)
	now := time.Now()

	if err := ApplyOutcome(c, OutcomeSent, now); err != nil {
		t.Fatalf("sent: %v", err)
	}
	if c.Stats.Sent != 1 || c.Stats.LastSentAt == nil || !c.Stats.LastSentAt.Equal(now) {
		t.Errorf("stats = %+v", c.Stats)
	}

	if err := ApplyOutcome(c, OutcomeDelivered, now); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if err := ApplyOutcome(c, OutcomeFailed, now); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if c.Stats.Delivered != 1 || c.Stats.Failed != 1 {
		t.Errorf("stats = %+v", c.Stats)
	}

	if err := ApplyOutcome(c, Outcome("bounced"), now); err == nil {
		t.Error("unknown outcome must be rejected")
	}
}

func TestRateLimitWindow(t *testing.T) {
	r := RateLimit{Enabled: true, Limit: 10, WindowSeconds: 90}
	if r.Window() != 90*time.Second {
		t.Errorf("window = %s", r.Window())
	}
}

func TestProviderRoundTrip(t *testing.T) {
	encoded, err := EncodeProvider(EmailProvider{Region: "us-east-1", FromAddress: "x@y.z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeProvider(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := decoded.(EmailProvider)
	if !ok {
		t.Fatalf("decoded type = %T", decoded)
	}
	if p.FromAddress != "x@y.z" {
		t.Errorf("from = %q", p.FromAddress)
	}

	if _, err := DecodeProvider([]byte(`{"type":"pigeon","config":{}}`)); err == nil {
		t.Error("unknown provider type must fail")
	}
}
