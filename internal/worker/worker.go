// Package worker drives the background delivery loops: the scheduled
// and expiry sweeps on timers, and the SQS consume loop for queued
// deliveries.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/orchestrator"
	"github.com/lalithlochan/courier/internal/sqs"
)

// Engine is the orchestrator surface the worker drives.
type Engine interface {
	ProcessScheduled(ctx context.Context, limit int) (*orchestrator.SweepResult, error)
	ProcessExpired(ctx context.Context, limit int) (*orchestrator.ExpiryResult, error)
	DeliverQueued(ctx context.Context, notificationID uuid.UUID) error
}

// Consumer is the queue surface the worker reads from.
type Consumer interface {
	ReceiveMessage(ctx context.Context) (*sqs.Message, string, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

type Config struct {
	ScheduledInterval time.Duration
	ExpiryInterval    time.Duration
	BatchSize         int
}

type Worker struct {
	engine   Engine
	consumer Consumer // nil disables the queue loop
	config   Config
	logger   *zap.Logger
}

func New(engine Engine, consumer Consumer, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ScheduledInterval == 0 {
		cfg.ScheduledInterval = 30 * time.Second
	}
	if cfg.ExpiryInterval == 0 {
		cfg.ExpiryInterval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Worker{
		engine:   engine,
		consumer: consumer,
		config:   cfg,
		logger:   logger,
	}
}

// Start runs the sweep tickers and the queue consume loop until the
// context is cancelled. Blocks.
func (w *Worker) Start(ctx context.Context) {
	if w.consumer != nil {
		go w.consumeLoop(ctx)
	}

	scheduled := time.NewTicker(w.config.ScheduledInterval)
	defer scheduled.Stop()
	expiry := time.NewTicker(w.config.ExpiryInterval)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-scheduled.C:
			w.runScheduledSweep(ctx)
		case <-expiry.C:
			w.runExpirySweep(ctx)
		}
	}
}

func (w *Worker) runScheduledSweep(ctx context.Context) {
	result, err := w.engine.ProcessScheduled(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	if result.Total > 0 {
		w.logger.Debug("scheduled sweep",
			zap.Int("total", result.Total),
			zap.Int("sent", result.Sent),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
}

func (w *Worker) runExpirySweep(ctx context.Context) {
	result, err := w.engine.ProcessExpired(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if result.Total > 0 {
		w.logger.Debug("expiry sweep",
			zap.Int("total", result.Total),
			zap.Int("archived", result.Archived),
			zap.Int("failed", result.Failed),
		)
	}
}

// consumeLoop long-polls the queue and hands each message to the
// orchestrator. A message is deleted once handled; delivery failures
// are already persisted on the record, so redelivery of a handled
// message is a no-op.
func (w *Worker) consumeLoop(ctx context.Context) {
	w.logger.Info("queue consume loop started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue consume loop stopping")
			return
		default:
		}

		msg, receipt, err := w.consumer.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue receive failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		metrics.SetSQSMessagesInFlight(1)
		w.handleMessage(ctx, msg, receipt)
		metrics.SetSQSMessagesInFlight(0)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *sqs.Message, receipt string) {
	id, err := msg.ID()
	if err != nil {
		// Malformed messages are deleted, not retried.
		w.logger.Error("dropping malformed queue message", zap.Error(err))
		if delErr := w.consumer.DeleteMessage(ctx, receipt); delErr != nil {
			w.logger.Error("failed to delete malformed message", zap.Error(delErr))
		}
		return
	}

	if err := w.engine.DeliverQueued(ctx, id); err != nil {
		// Leave the message for redelivery after visibility timeout.
		w.logger.Error("queued delivery failed",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return
	}

	if err := w.consumer.DeleteMessage(ctx, receipt); err != nil {
		w.logger.Error("failed to delete queue message",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
	}
}
