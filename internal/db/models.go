package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is one delivery attempt. Created at intake, mutated only
// by the orchestrator, archived by the expiry sweep.
type Notification struct {
	ID              uuid.UUID       `json:"id"`
	RecipientID     uuid.UUID       `json:"recipient_id"`
	Category        string          `json:"category"`
	Type            string          `json:"type"`
	Channel         string          `json:"channel"`
	ChannelID       *uuid.UUID      `json:"channel_id,omitempty"`
	Priority        string          `json:"priority"`
	TemplateName    *string         `json:"template_name,omitempty"`
	TemplateVersion *int            `json:"template_version,omitempty"`
	Content         json.RawMessage `json:"content,omitempty"`
	Status          string          `json:"status"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ProviderRef     *string         `json:"provider_ref,omitempty"`
	RelatedKind     *string         `json:"related_kind,omitempty"`
	RelatedID       *string         `json:"related_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	ArchivedAt      *time.Time      `json:"archived_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Notification lifecycle: pending|scheduled -> processing ->
// sent|skipped|failed; sent -> archived via the expiry sweep.
// archived, skipped, and failed are terminal.
const (
	StatusPending    = "pending"
	StatusScheduled  = "scheduled"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
	StatusArchived   = "archived"
)

// Recipient is a directory entry; the core treats the id as opaque and
// uses the directory only to validate existence and resolve roles.
type Recipient struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}
