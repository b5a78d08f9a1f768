package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/orchestrator"
	"github.com/lalithlochan/courier/internal/sqs"
)

type fakeEngine struct {
	mu         sync.Mutex
	scheduled  int
	expired    int
	delivered  []uuid.UUID
	deliverErr error
}

func (e *fakeEngine) ProcessScheduled(ctx context.Context, limit int) (*orchestrator.SweepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduled++
	return &orchestrator.SweepResult{}, nil
}

func (e *fakeEngine) ProcessExpired(ctx context.Context, limit int) (*orchestrator.ExpiryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired++
	return &orchestrator.ExpiryResult{}, nil
}

func (e *fakeEngine) DeliverQueued(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deliverErr != nil {
		return e.deliverErr
	}
	e.delivered = append(e.delivered, id)
	return nil
}

type fakeConsumer struct {
	mu       sync.Mutex
	messages []*sqs.Message
	deleted  []string
}

func (c *fakeConsumer) ReceiveMessage(ctx context.Context) (*sqs.Message, string, error) {
	c.mu.Lock()
	if len(c.messages) == 0 {
		c.mu.Unlock()
		// Simulate long polling so the loop does not spin.
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
		return nil, "", nil
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	c.mu.Unlock()
	return msg, "receipt-" + msg.NotificationID, nil
}

func (c *fakeConsumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, receiptHandle)
	return nil
}

func TestWorker_RunsSweepsOnTicks(t *testing.T) {
	engine := &fakeEngine{}
	w := New(engine, nil, Config{
		ScheduledInterval: 10 * time.Millisecond,
		ExpiryInterval:    10 * time.Millisecond,
		BatchSize:         5,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.scheduled == 0 {
		t.Error("scheduled sweep never ran")
	}
	if engine.expired == 0 {
		t.Error("expiry sweep never ran")
	}
}

func TestWorker_ConsumesAndDeletes(t *testing.T) {
	id := uuid.New()
	engine := &fakeEngine{}
	consumer := &fakeConsumer{messages: []*sqs.Message{
		{NotificationID: id.String(), RecipientID: uuid.New().String(), Channel: "email"},
	}}
	w := New(engine, consumer, Config{
		ScheduledInterval: time.Hour,
		ExpiryInterval:    time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	engine.mu.Lock()
	if len(engine.delivered) != 1 || engine.delivered[0] != id {
		t.Fatalf("delivered = %v, want [%s]", engine.delivered, id)
	}
	engine.mu.Unlock()

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.deleted) != 1 {
		t.Fatalf("deleted %d messages, want 1", len(consumer.deleted))
	}
}

func TestWorker_DeliveryErrorLeavesMessage(t *testing.T) {
	engine := &fakeEngine{deliverErr: errors.New("db down")}
	consumer := &fakeConsumer{messages: []*sqs.Message{
		{NotificationID: uuid.New().String()},
	}}
	w := New(engine, consumer, Config{
		ScheduledInterval: time.Hour,
		ExpiryInterval:    time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.deleted) != 0 {
		t.Fatal("message should remain for redelivery on engine failure")
	}
}

func TestWorker_MalformedMessageDeleted(t *testing.T) {
	engine := &fakeEngine{}
	consumer := &fakeConsumer{messages: []*sqs.Message{
		{NotificationID: "not-a-uuid"},
	}}
	w := New(engine, consumer, Config{
		ScheduledInterval: time.Hour,
		ExpiryInterval:    time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.deleted) != 1 {
		t.Fatal("malformed message should be deleted, not retried")
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.delivered) != 0 {
		t.Fatal("malformed message should not reach the engine")
	}
}
