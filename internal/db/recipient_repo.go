package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LookupRecipient checks whether a recipient exists and returns its
// roles. A missing recipient is reported through the exists flag, not
// an error.
func (r *Repository) LookupRecipient(ctx context.Context, id uuid.UUID) (*Recipient, bool, error) {
	query := `SELECT id, email, roles, created_at FROM recipients WHERE id = $1`

	var rec Recipient
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&rec.ID, &rec.Email, &rec.Roles, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query recipient: %w", err)
	}
	return &rec, true, nil
}

// ListRecipientsByRole returns the ids of all recipients carrying a
// role. Used by role broadcasts.
func (r *Repository) ListRecipientsByRole(ctx context.Context, role string) ([]uuid.UUID, error) {
	query := `SELECT id FROM recipients WHERE $1 = ANY(roles) ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("query recipients by role: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
