package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lalithlochan/courier/internal/channel"
)

func invoiceTemplate() *Template {
	return &Template{
		ID:      uuid.New(),
		Name:    "invoice_paid",
		Version: 1,
		Active:  true,
		Variables: []Variable{
			{Name: "amount", Required: true, Example: "$10.00"},
			{Name: "invoice_id", Required: true},
			{Name: "note", Required: false, Example: "thanks!"},
		},
		Channels: []ChannelContent{
			{Type: channel.TypeEmail, Enabled: true, Subject: "Invoice {{invoice_id}} paid", Body: "We received {{amount}}. {{note}}"},
			{Type: channel.TypeInApp, Enabled: true, Title: "Invoice paid", Body: "{{amount}} received"},
			{Type: channel.TypeSMS, Enabled: false, Body: "Paid {{amount}}"},
		},
	}
}

func TestValidate_CollectsAllMissing(t *testing.T) {
	err := Validate(invoiceTemplate(), map[string]string{"note": "x"})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Missing) != 2 {
		t.Fatalf("missing = %v, want both required variables", verr.Missing)
	}
	// Missing names are sorted for stable messages.
	if verr.Missing[0] != "amount" || verr.Missing[1] != "invoice_id" {
		t.Errorf("missing = %v, want sorted [amount invoice_id]", verr.Missing)
	}
	if !strings.Contains(verr.Error(), "amount, invoice_id") {
		t.Errorf("error message = %q", verr.Error())
	}
}

func TestValidate_OptionalNeverMissing(t *testing.T) {
	vars := map[string]string{"amount": "$5", "invoice_id": "inv-1"}
	if err := Validate(invoiceTemplate(), vars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRenderContent(t *testing.T) {
	vars := map[string]string{"amount": "$5.00", "invoice_id": "inv-42", "note": "cheers"}

	content, err := RenderContent(invoiceTemplate(), vars, channel.TypeEmail)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content.Subject != "Invoice inv-42 paid" {
		t.Errorf("subject = %q", content.Subject)
	}
	if content.Body != "We received $5.00. cheers" {
		t.Errorf("body = %q", content.Body)
	}
}

func TestRenderContent_UnknownPlaceholderLeftIntact(t *testing.T) {
	tmpl := &Template{
		Name:     "raw",
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "hello {{who}}"}},
	}
	content, err := RenderContent(tmpl, nil, channel.TypeInApp)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content.Body != "hello {{who}}" {
		t.Errorf("body = %q, want placeholder preserved", content.Body)
	}
}

func TestRenderContent_UnsupportedChannel(t *testing.T) {
	vars := map[string]string{"amount": "$5", "invoice_id": "inv-1"}

	// Not declared at all.
	_, err := RenderContent(invoiceTemplate(), vars, channel.TypeWebhook)
	if !errors.Is(err, ErrUnsupportedChannel) {
		t.Errorf("undeclared channel err = %v", err)
	}

	// Declared but disabled.
	_, err = RenderContent(invoiceTemplate(), vars, channel.TypeSMS)
	if !errors.Is(err, ErrUnsupportedChannel) {
		t.Errorf("disabled channel err = %v", err)
	}
}

func TestPreviewVars(t *testing.T) {
	out := PreviewVars(invoiceTemplate(), map[string]string{"amount": "$99"})

	if out["amount"] != "$99" {
		t.Error("caller value must win over example")
	}
	if out["invoice_id"] != "[Example invoice_id]" {
		t.Errorf("invoice_id = %q, want synthesized placeholder", out["invoice_id"])
	}
	if out["note"] != "thanks!" {
		t.Errorf("note = %q, want optional example filled", out["note"])
	}
}

func TestNewVersion(t *testing.T) {
	src := invoiceTemplate()
	desc := "second revision"

	next := NewVersion(src, VersionUpdate{Description: &desc})

	if next.Version != 2 {
		t.Errorf("version = %d, want 2", next.Version)
	}
	if next.Name != src.Name {
		t.Errorf("name = %q, want carried forward", next.Name)
	}
	if next.Description != desc {
		t.Errorf("description = %q", next.Description)
	}
	if next.ID == src.ID {
		t.Error("new version must get a fresh id")
	}
	if len(next.Variables) != len(src.Variables) {
		t.Error("variables not carried forward")
	}

	// Mutating the new version's slices must not leak into the source.
	next.Variables[0].Name = "mutated"
	if src.Variables[0].Name == "mutated" {
		t.Error("source template mutated through shared slice")
	}
	if src.Version != 1 || src.Description == desc {
		t.Error("source template must be untouched")
	}
}

func TestNewVersion_OverridesChannels(t *testing.T) {
	src := invoiceTemplate()
	next := NewVersion(src, VersionUpdate{
		Channels: []ChannelContent{{Type: channel.TypeEmail, Enabled: true, Body: "new body"}},
		Active:   boolPtr(false),
	})

	if len(next.Channels) != 1 || next.Channels[0].Body != "new body" {
		t.Errorf("channels = %+v", next.Channels)
	}
	if next.Active {
		t.Error("active override not applied")
	}
	if !src.Active || len(src.Channels) != 3 {
		t.Error("source template must be untouched")
	}
}

func boolPtr(b bool) *bool { return &b }
