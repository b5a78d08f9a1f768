package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for notifications, preferences,
// channels, templates, and recipients.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, recipient_id, category, type, channel, channel_id, priority,
	template_name, template_version, content, status, error_message,
	provider_ref, related_kind, related_id, metadata,
	scheduled_at, expires_at, sent_at, archived_at, created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Category,
		&n.Type,
		&n.Channel,
		&n.ChannelID,
		&n.Priority,
		&n.TemplateName,
		&n.TemplateVersion,
		&n.Content,
		&n.Status,
		&n.ErrorMessage,
		&n.ProviderRef,
		&n.RelatedKind,
		&n.RelatedID,
		&n.Metadata,
		&n.ScheduledAt,
		&n.ExpiresAt,
		&n.SentAt,
		&n.ArchivedAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification inserts a new notification record.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient_id, category, type, channel, channel_id, priority,
			template_name, template_version, content, status,
			related_kind, related_id, metadata, scheduled_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.RecipientID,
		n.Category,
		n.Type,
		n.Channel,
		n.ChannelID,
		n.Priority,
		n.TemplateName,
		n.TemplateVersion,
		n.Content,
		n.Status,
		n.RelatedKind,
		n.RelatedID,
		n.Metadata,
		n.ScheduledAt,
		n.ExpiresAt,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("channel", n.Channel),
		zap.String("status", n.Status),
	)

	return nil
}

// GetNotification retrieves a notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListNotificationsByRecipient retrieves a recipient's notifications
// with pagination, newest first.
func (r *Repository) ListNotificationsByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

// MarkNotificationSent records a successful dispatch.
func (r *Repository) MarkNotificationSent(ctx context.Context, id uuid.UUID, providerRef string, channelID *uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = $1, provider_ref = $2, channel_id = $3,
		    error_message = NULL, sent_at = NOW(), updated_at = NOW()
		WHERE id = $4
	`
	return r.execNotificationUpdate(ctx, id, query, StatusSent, providerRef, channelID, id)
}

// MarkNotificationFailed records a dispatch failure.
func (r *Repository) MarkNotificationFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notifications
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	return r.execNotificationUpdate(ctx, id, query, StatusFailed, errMsg, id)
}

// MarkNotificationSkipped records a preference-gate skip discovered at
// sweep time for an already-persisted record.
func (r *Repository) MarkNotificationSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE notifications
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	return r.execNotificationUpdate(ctx, id, query, StatusSkipped, reason, id)
}

// ArchiveNotification transitions an expired record to archived.
func (r *Repository) ArchiveNotification(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = $1, archived_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	return r.execNotificationUpdate(ctx, id, query, StatusArchived, id)
}

func (r *Repository) execNotificationUpdate(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("update notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimNotification atomically claims a single pending record for
// processing. Returns ErrNotFound when the record is absent or already
// claimed, which makes queue redelivery a no-op.
func (r *Repository) ClaimNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, StatusProcessing, id, StatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s not claimable: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	return n, nil
}

// ClaimDueNotifications atomically claims up to limit scheduled records
// whose scheduled time has elapsed. The select and the state transition
// are one statement, so concurrent sweepers never claim the same record
// twice; SKIP LOCKED keeps them from blocking each other.
func (r *Repository) ClaimDueNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $2 AND scheduled_at <= NOW()
			ORDER BY scheduled_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := r.db.Pool().Query(ctx, query, StatusProcessing, StatusScheduled, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed rows: %w", err)
	}

	if len(out) > 0 {
		r.logger.Info("claimed due notifications", zap.Int("count", len(out)))
	}
	return out, nil
}

// ClaimExpiredNotifications atomically claims up to limit records past
// their expiry and not yet archived, using the same single-statement
// transition as ClaimDueNotifications.
func (r *Repository) ClaimExpiredNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE expires_at IS NOT NULL
			  AND expires_at <= NOW()
			  AND status IN ($2, $3)
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := r.db.Pool().Query(ctx, query, StatusProcessing, StatusSent, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim expired notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rows: %w", err)
	}

	return out, nil
}

// CountNotificationsByStatus returns status counts, used by health and
// operational endpoints.
func (r *Repository) CountNotificationsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
