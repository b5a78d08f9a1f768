// Package directory answers who a notification can go to.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
)

// ErrUnknownRecipient is returned when intake names a recipient the
// directory has never seen.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Store is the persistence surface the directory needs.
type Store interface {
	LookupRecipient(ctx context.Context, id uuid.UUID) (*db.Recipient, bool, error)
	ListRecipientsByRole(ctx context.Context, role string) ([]uuid.UUID, error)
}

type Directory struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

// Verify confirms the recipient exists before any notification is
// persisted against it.
func (d *Directory) Verify(ctx context.Context, id uuid.UUID) (*db.Recipient, error) {
	rec, ok, err := d.store.LookupRecipient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("recipient %s: %w", id, ErrUnknownRecipient)
	}
	return rec, nil
}

// Audience expands a role into the recipient ids holding it, in
// creation order.
func (d *Directory) Audience(ctx context.Context, role string) ([]uuid.UUID, error) {
	ids, err := d.store.ListRecipientsByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("expand role %q: %w", role, err)
	}

	d.logger.Debug("role audience resolved",
		zap.String("role", role),
		zap.Int("recipients", len(ids)),
	)
	return ids, nil
}
