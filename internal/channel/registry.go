package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/redis"
)

// ErrChannelUnavailable means no active channel resolves for a type.
// For a delivery attempt this is fatal, not a skip.
var ErrChannelUnavailable = errors.New("no active channel available for type")

// ErrRateLimited means the channel's throughput cap is reached.
// Whether to retry or drop is the caller's policy.
var ErrRateLimited = errors.New("channel rate limit exceeded")

// Store is the persistence surface the registry needs.
type Store interface {
	ListChannels(ctx context.Context) ([]*Channel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*Channel, error)
	UpdateChannelStatus(ctx context.Context, id uuid.UUID, status Status, lastError *string) error
	RecordChannelOutcome(ctx context.Context, id uuid.UUID, outcome Outcome, at time.Time) error
}

// Probe exercises a channel's underlying capability for Test.
// Implementations live with the senders; the registry never embeds
// provider-specific network code.
type Probe interface {
	Probe(ctx context.Context, ch *Channel) error
}

// TestResult reports the outcome of exercising a channel.
type TestResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry resolves channels and maintains their status, stats, and
// rate limits. Channel config is admin-managed and read-mostly.
type Registry struct {
	store   Store
	limiter *redis.RateLimiter // nil disables rate limiting
	logger  *zap.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(store Store, limiter *redis.RateLimiter, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		limiter: limiter,
		logger:  logger,
	}
}

// ActiveByType returns all active channels of a type in creation order.
func (r *Registry) ActiveByType(ctx context.Context, t Type) ([]*Channel, error) {
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return ActiveByType(channels, t), nil
}

// DefaultByType resolves the channel that serves deliveries of a type.
// Returns ErrChannelUnavailable when no active channel exists.
func (r *Registry) DefaultByType(ctx context.Context, t Type) (*Channel, error) {
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	ch := DefaultByType(channels, t)
	if ch == nil {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, t)
	}
	return ch, nil
}

// Allow checks the channel's own rate limit. Channels without a limit,
// and registries without Redis, always pass.
func (r *Registry) Allow(ctx context.Context, ch *Channel) error {
	if r.limiter == nil || !ch.RateLimit.Enabled {
		return nil
	}

	result, err := r.limiter.Allow(ctx, "channel:"+ch.ID.String(), redis.RateLimitConfig{
		Limit:  ch.RateLimit.Limit,
		Window: ch.RateLimit.Window(),
	})
	if err != nil {
		// A broken limiter should not block deliveries.
		r.logger.Warn("channel rate limit check failed",
			zap.Error(err),
			zap.String("channel", ch.Name),
		)
		return nil
	}

	if !result.Allowed {
		r.logger.Debug("channel rate limited",
			zap.String("channel", ch.Name),
			zap.Time("reset_at", result.ResetAt),
		)
		return fmt.Errorf("%w: channel %s", ErrRateLimited, ch.Name)
	}
	return nil
}

// RecordOutcome updates the channel's delivery stats, in memory and in
// the store.
func (r *Registry) RecordOutcome(ctx context.Context, ch *Channel, outcome Outcome) error {
	now := time.Now()
	if err := ApplyOutcome(ch, outcome, now); err != nil {
		return err
	}
	if err := r.store.RecordChannelOutcome(ctx, ch.ID, outcome, now); err != nil {
		return fmt.Errorf("record channel outcome: %w", err)
	}
	return nil
}

// Test exercises the channel through the injected probe. Success marks
// the channel active and clears its error; failure marks it errored with
// the message. The status change is persisted either way.
func (r *Registry) Test(ctx context.Context, ch *Channel, probe Probe) (*TestResult, error) {
	result := &TestResult{Timestamp: time.Now()}

	if err := probe.Probe(ctx, ch); err != nil {
		result.Success = false
		result.Message = err.Error()

		msg := err.Error()
		if updErr := r.store.UpdateChannelStatus(ctx, ch.ID, StatusError, &msg); updErr != nil {
			return nil, fmt.Errorf("persist channel test failure: %w", updErr)
		}
		ch.Status = StatusError
		ch.LastError = &msg

		r.logger.Warn("channel test failed",
			zap.String("channel", ch.Name),
			zap.String("type", string(ch.Type)),
			zap.Error(err),
		)
		return result, nil
	}

	result.Success = true
	result.Message = "channel test succeeded"

	if err := r.store.UpdateChannelStatus(ctx, ch.ID, StatusActive, nil); err != nil {
		return nil, fmt.Errorf("persist channel test success: %w", err)
	}
	ch.Status = StatusActive
	ch.LastError = nil

	r.logger.Info("channel test succeeded",
		zap.String("channel", ch.Name),
		zap.String("type", string(ch.Type)),
	)
	return result, nil
}
