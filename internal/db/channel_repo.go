package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

const channelColumns = `
	id, name, type, status, provider, capabilities, rate_limit,
	sent_count, delivered_count, failed_count, last_sent_at,
	tags, position, last_error, created_at, updated_at
`

func scanChannel(row pgx.Row) (*channel.Channel, error) {
	var c channel.Channel
	var provider, capabilities, rateLimit []byte

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Type,
		&c.Status,
		&provider,
		&capabilities,
		&rateLimit,
		&c.Stats.Sent,
		&c.Stats.Delivered,
		&c.Stats.Failed,
		&c.Stats.LastSentAt,
		&c.Tags,
		&c.Position,
		&c.LastError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.Provider, err = channel.DecodeProvider(provider); err != nil {
		return nil, fmt.Errorf("decode provider for channel %s: %w", c.Name, err)
	}
	if err := json.Unmarshal(capabilities, &c.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities for channel %s: %w", c.Name, err)
	}
	if err := json.Unmarshal(rateLimit, &c.RateLimit); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit for channel %s: %w", c.Name, err)
	}
	return &c, nil
}

// CreateChannel inserts a channel; position is assigned by the database
// so creation order is the stable tie-break for default resolution.
func (r *Repository) CreateChannel(ctx context.Context, c *channel.Channel) error {
	provider, err := channel.EncodeProvider(c.Provider)
	if err != nil {
		return fmt.Errorf("encode provider: %w", err)
	}
	capabilities, err := json.Marshal(c.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	rateLimit, err := json.Marshal(c.RateLimit)
	if err != nil {
		return fmt.Errorf("marshal rate limit: %w", err)
	}

	query := `
		INSERT INTO channels (id, name, type, status, provider, capabilities, rate_limit, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING position, created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		c.ID, c.Name, c.Type, c.Status, provider, capabilities, rateLimit, c.Tags,
	).Scan(&c.Position, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create channel",
			zap.Error(err),
			zap.String("name", c.Name),
		)
		return fmt.Errorf("insert channel: %w", err)
	}

	r.logger.Info("channel created",
		zap.String("channel_id", c.ID.String()),
		zap.String("name", c.Name),
		zap.String("type", string(c.Type)),
	)
	return nil
}

// GetChannel retrieves a channel by ID.
func (r *Repository) GetChannel(ctx context.Context, id uuid.UUID) (*channel.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	c, err := scanChannel(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return c, nil
}

// ListChannels returns all channels in creation order.
func (r *Repository) ListChannels(ctx context.Context) ([]*channel.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels ORDER BY position`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []*channel.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChannelStatus sets a channel's status and last error.
func (r *Repository) UpdateChannelStatus(ctx context.Context, id uuid.UUID, status channel.Status, lastError *string) error {
	query := `
		UPDATE channels
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, lastError, id)
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordChannelOutcome increments the stats counter matching the
// outcome. Unrecognized outcomes are rejected, never dropped.
func (r *Repository) RecordChannelOutcome(ctx context.Context, id uuid.UUID, outcome channel.Outcome, at time.Time) error {
	var query string
	switch outcome {
	case channel.OutcomeSent:
		query = `UPDATE channels SET sent_count = sent_count + 1, last_sent_at = $2, updated_at = NOW() WHERE id = $1`
	case channel.OutcomeDelivered:
		query = `UPDATE channels SET delivered_count = delivered_count + 1, updated_at = NOW() WHERE id = $1`
	case channel.OutcomeFailed:
		query = `UPDATE channels SET failed_count = failed_count + 1, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("unknown delivery outcome: %q", outcome)
	}

	var result pgconn.CommandTag
	var err error
	if outcome == channel.OutcomeSent {
		result, err = r.db.Pool().Exec(ctx, query, id, at)
	} else {
		result, err = r.db.Pool().Exec(ctx, query, id)
	}
	if err != nil {
		return fmt.Errorf("record channel outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return nil
}
