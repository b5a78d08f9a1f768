package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/preference"
)

// GetPreference retrieves a recipient's stored preference document.
// Returns ErrNotFound when the recipient never wrote one.
func (r *Repository) GetPreference(ctx context.Context, recipientID uuid.UUID) (*preference.Preference, error) {
	query := `SELECT doc, created_at, updated_at FROM preferences WHERE recipient_id = $1`

	var doc []byte
	var createdAt, updatedAt time.Time
	err := r.db.Pool().QueryRow(ctx, query, recipientID).Scan(&doc, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("preference for %s: %w", recipientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}

	var p preference.Preference
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("unmarshal preference doc: %w", err)
	}
	p.RecipientID = recipientID
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

// GetOrDefaultPreference returns the stored preference, or the default
// document when none exists. Absence is "use defaults", not an error,
// and no write happens here.
func (r *Repository) GetOrDefaultPreference(ctx context.Context, recipientID uuid.UUID) (*preference.Preference, error) {
	p, err := r.GetPreference(ctx, recipientID)
	if errors.Is(err, ErrNotFound) {
		return preference.Default(recipientID), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SavePreference upserts the preference document.
func (r *Repository) SavePreference(ctx context.Context, p *preference.Preference) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preference doc: %w", err)
	}

	query := `
		INSERT INTO preferences (recipient_id, doc)
		VALUES ($1, $2)
		ON CONFLICT (recipient_id) DO UPDATE
		SET doc = EXCLUDED.doc, updated_at = NOW()
	`

	if _, err := r.db.Pool().Exec(ctx, query, p.RecipientID, doc); err != nil {
		r.logger.Error("failed to save preference",
			zap.Error(err),
			zap.String("recipient_id", p.RecipientID.String()),
		)
		return fmt.Errorf("upsert preference: %w", err)
	}

	r.logger.Info("preference saved",
		zap.String("recipient_id", p.RecipientID.String()),
	)
	return nil
}

// mutatePreference runs fn against the recipient's preference document
// under a row lock so the read-modify-write is atomic. A missing row is
// materialized from defaults inside the same transaction.
func (r *Repository) mutatePreference(ctx context.Context, recipientID uuid.UUID, fn func(p *preference.Preference)) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	p := preference.Default(recipientID)

	err = tx.QueryRow(ctx,
		`SELECT doc FROM preferences WHERE recipient_id = $1 FOR UPDATE`,
		recipientID,
	).Scan(&doc)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Lazily created below.
	case err != nil:
		return fmt.Errorf("lock preference: %w", err)
	default:
		if err := json.Unmarshal(doc, p); err != nil {
			return fmt.Errorf("unmarshal preference doc: %w", err)
		}
		p.RecipientID = recipientID
	}

	fn(p)

	updated, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preference doc: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO preferences (recipient_id, doc)
		VALUES ($1, $2)
		ON CONFLICT (recipient_id) DO UPDATE
		SET doc = EXCLUDED.doc, updated_at = NOW()
	`, recipientID, updated)
	if err != nil {
		return fmt.Errorf("write preference: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertPushToken adds or refreshes a device token in the recipient's
// preference document, atomically from the caller's perspective.
func (r *Repository) UpsertPushToken(ctx context.Context, recipientID uuid.UUID, token, platform, device string) error {
	err := r.mutatePreference(ctx, recipientID, func(p *preference.Preference) {
		preference.AddPushToken(p, token, platform, device, time.Now())
	})
	if err != nil {
		return err
	}

	r.logger.Info("push token upserted",
		zap.String("recipient_id", recipientID.String()),
		zap.String("platform", platform),
	)
	return nil
}

// RemovePushToken filters a device token out of the recipient's
// preference document.
func (r *Repository) RemovePushToken(ctx context.Context, recipientID uuid.UUID, token string) error {
	found := false
	err := r.mutatePreference(ctx, recipientID, func(p *preference.Preference) {
		found = preference.RemovePushToken(p, token)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("push token: %w", ErrNotFound)
	}

	r.logger.Info("push token removed",
		zap.String("recipient_id", recipientID.String()),
	)
	return nil
}
