// Package orchestrator ties the preference gate, template engine,
// channel registry, and senders into the delivery pipeline.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/dispatch"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/template"
)

// ValidationError aggregates every missing intake field instead of
// failing on the first.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, providerRef string, channelID *uuid.UUID) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkNotificationSkipped(ctx context.Context, id uuid.UUID, reason string) error
	ArchiveNotification(ctx context.Context, id uuid.UUID) error
	ClaimNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ClaimDueNotifications(ctx context.Context, limit int) ([]*db.Notification, error)
	ClaimExpiredNotifications(ctx context.Context, limit int) ([]*db.Notification, error)
	GetOrDefaultPreference(ctx context.Context, recipientID uuid.UUID) (*preference.Preference, error)
}

// ChannelResolver resolves and accounts for delivery channels.
type ChannelResolver interface {
	DefaultByType(ctx context.Context, t channel.Type) (*channel.Channel, error)
	Allow(ctx context.Context, ch *channel.Channel) error
	RecordOutcome(ctx context.Context, ch *channel.Channel, outcome channel.Outcome) error
}

// Renderer resolves and renders templates.
type Renderer interface {
	Render(ctx context.Context, name string, vars map[string]string, ch channel.Type) (*template.Content, error)
	RenderVersion(ctx context.Context, name string, version int, vars map[string]string, ch channel.Type) (*template.Content, error)
}

// Directory validates recipients and expands roles.
type Directory interface {
	Verify(ctx context.Context, id uuid.UUID) (*db.Recipient, error)
	Audience(ctx context.Context, role string) ([]uuid.UUID, error)
}

// Queue hands a persisted notification to the async delivery path.
// A nil Queue means deliveries run inline.
type Queue interface {
	Enqueue(ctx context.Context, notificationID, recipientID uuid.UUID, channelType string) (string, error)
}

// Request is one notification intake.
type Request struct {
	RecipientID     uuid.UUID         `json:"recipient_id"`
	Category        string            `json:"category"`
	Type            string            `json:"type"`
	Priority        string            `json:"priority,omitempty"`
	Channel         channel.Type      `json:"channel,omitempty"`
	Template        string            `json:"template,omitempty"`
	TemplateVersion *int              `json:"template_version,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	Title           string            `json:"title,omitempty"`
	Message         string            `json:"message,omitempty"`
	RelatedKind     *string           `json:"related_kind,omitempty"`
	RelatedID       *string           `json:"related_id,omitempty"`
	Metadata        json.RawMessage   `json:"metadata,omitempty"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}

// SendResult is the outcome of a single intake: either a skip with the
// deciding preference tier, or the persisted record.
type SendResult struct {
	Skipped bool             `json:"skipped"`
	Scope   preference.Scope `json:"scope,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Record  *db.Notification `json:"record,omitempty"`
}

// BatchItem is the per-item detail of a batch send.
type BatchItem struct {
	Index  int        `json:"index"`
	Status string     `json:"status"` // sent, scheduled, queued, skipped, failed
	Reason string     `json:"reason,omitempty"`
	ID     *uuid.UUID `json:"id,omitempty"`
}

// BatchResult aggregates a batch send. Every item lands in exactly one
// counter: total == sent + skipped + failed.
type BatchResult struct {
	Total   int         `json:"total"`
	Sent    int         `json:"sent"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Items   []BatchItem `json:"items,omitempty"`
}

// SweepResult aggregates a scheduled-delivery sweep.
type SweepResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExpiryResult aggregates an expiry sweep.
type ExpiryResult struct {
	Total    int `json:"total"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Orchestrator runs the delivery pipeline: gate, render, resolve,
// dispatch, persist.
type Orchestrator struct {
	store     Store
	registry  ChannelResolver
	renderer  Renderer
	directory Directory
	sender    dispatch.Sender
	queue     Queue
	logger    *zap.Logger
}

func New(store Store, registry ChannelResolver, renderer Renderer, directory Directory, sender dispatch.Sender, queue Queue, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		registry:  registry,
		renderer:  renderer,
		directory: directory,
		sender:    sender,
		queue:     queue,
		logger:    logger,
	}
}

func validate(req *Request) error {
	var missing []string
	if req.RecipientID == uuid.Nil {
		missing = append(missing, "recipient_id")
	}
	if req.Type == "" {
		missing = append(missing, "type")
	}
	if req.Category == "" {
		missing = append(missing, "category")
	}
	if req.Template == "" && (req.Title == "" || req.Message == "") {
		missing = append(missing, "template or title+message")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// CreateAndSend runs one intake through the full pipeline.
//
// A preference denial returns a skip result without persisting any
// record. An allowed request is rendered, persisted, and either
// dispatched inline, enqueued for the async worker, or parked as
// scheduled when its delivery time has not arrived.
func (o *Orchestrator) CreateAndSend(ctx context.Context, req *Request) (*SendResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Channel == "" {
		req.Channel = channel.TypeInApp
	}
	req.Priority = string(preference.ParsePriority(req.Priority))

	if _, err := o.directory.Verify(ctx, req.RecipientID); err != nil {
		return nil, err
	}

	pref, err := o.store.GetOrDefaultPreference(ctx, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve preference: %w", err)
	}

	decision := preference.Evaluate(pref, preference.Request{
		Category: req.Category,
		Type:     req.Type,
		Template: req.Template,
		Channel:  req.Channel,
		Priority: preference.Priority(req.Priority),
	}, time.Now())
	if !decision.Allowed {
		metrics.RecordPreferenceSkip(string(decision.Scope))
		o.logger.Info("notification skipped by preference",
			zap.String("recipient_id", req.RecipientID.String()),
			zap.String("scope", string(decision.Scope)),
			zap.String("reason", decision.Reason),
		)
		return &SendResult{Skipped: true, Scope: decision.Scope, Reason: decision.Reason}, nil
	}

	content, err := o.render(ctx, req)
	if err != nil {
		return nil, err
	}

	// The channel must resolve before anything is persisted; no usable
	// channel is fatal for the attempt, not a skip.
	ch, err := o.registry.DefaultByType(ctx, req.Channel)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Allow(ctx, ch); err != nil {
		if errors.Is(err, channel.ErrRateLimited) {
			metrics.RecordRateLimitRejection("channel")
		}
		return nil, err
	}

	n, err := o.persist(ctx, req, content)
	if err != nil {
		return nil, err
	}

	switch {
	case n.Status == db.StatusScheduled:
		// Delivered later by the scheduled sweep.
	case o.queue != nil:
		if _, err := o.queue.Enqueue(ctx, n.ID, n.RecipientID, n.Channel); err != nil {
			// The record stays pending; the scheduled sweep will not pick
			// it up, so surface the enqueue failure.
			return nil, fmt.Errorf("enqueue notification: %w", err)
		}
	default:
		claimed, err := o.store.ClaimNotification(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		o.deliver(ctx, claimed)
		n = claimed
	}

	return &SendResult{Record: n}, nil
}

func (o *Orchestrator) render(ctx context.Context, req *Request) (*template.Content, error) {
	if req.Template == "" {
		return &template.Content{Subject: req.Title, Title: req.Title, Body: req.Message}, nil
	}
	if req.TemplateVersion != nil {
		return o.renderer.RenderVersion(ctx, req.Template, *req.TemplateVersion, req.Variables, req.Channel)
	}
	return o.renderer.Render(ctx, req.Template, req.Variables, req.Channel)
}

func (o *Orchestrator) persist(ctx context.Context, req *Request, content *template.Content) (*db.Notification, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	status := db.StatusPending
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		status = db.StatusScheduled
	}

	n := &db.Notification{
		ID:          uuid.New(),
		RecipientID: req.RecipientID,
		Category:    req.Category,
		Type:        req.Type,
		Channel:     string(req.Channel),
		Priority:    req.Priority,
		Content:     raw,
		Status:      status,
		RelatedKind: req.RelatedKind,
		RelatedID:   req.RelatedID,
		Metadata:    req.Metadata,
		ScheduledAt: req.ScheduledAt,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.Template != "" {
		n.TemplateName = &req.Template
		n.TemplateVersion = req.TemplateVersion
	}

	if err := o.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// deliver dispatches a record already claimed into processing and
// writes back its terminal status. The preference gate re-runs here so
// a recipient who opted out between intake and delivery is respected;
// that late denial lands as skipped on the persisted record.
func (o *Orchestrator) deliver(ctx context.Context, n *db.Notification) {
	start := time.Now()

	pref, err := o.store.GetOrDefaultPreference(ctx, n.RecipientID)
	if err != nil {
		o.fail(ctx, n, fmt.Sprintf("resolve preference: %v", err))
		return
	}

	var tmpl string
	if n.TemplateName != nil {
		tmpl = *n.TemplateName
	}
	decision := preference.Evaluate(pref, preference.Request{
		Category: n.Category,
		Type:     n.Type,
		Template: tmpl,
		Channel:  channel.Type(n.Channel),
		Priority: preference.Priority(n.Priority),
	}, time.Now())
	if !decision.Allowed {
		metrics.RecordPreferenceSkip(string(decision.Scope))
		if err := o.store.MarkNotificationSkipped(ctx, n.ID, decision.Reason); err != nil {
			o.logger.Error("failed to mark notification skipped", zap.Error(err),
				zap.String("notification_id", n.ID.String()))
			return
		}
		n.Status = db.StatusSkipped
		n.ErrorMessage = &decision.Reason
		return
	}

	ch, err := o.registry.DefaultByType(ctx, channel.Type(n.Channel))
	if err != nil {
		o.fail(ctx, n, err.Error())
		return
	}
	if err := o.registry.Allow(ctx, ch); err != nil {
		if errors.Is(err, channel.ErrRateLimited) {
			metrics.RecordRateLimitRejection("channel")
		}
		o.fail(ctx, n, err.Error())
		return
	}

	var content template.Content
	if err := json.Unmarshal(n.Content, &content); err != nil {
		o.fail(ctx, n, fmt.Sprintf("decode stored content: %v", err))
		return
	}

	d := &dispatch.Delivery{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		ChannelType:    channel.Type(n.Channel),
		Content:        content,
		Settings:       preference.DeliverySettings(pref, n.Category, n.Type, channel.Type(n.Channel)),
		Provider:       ch.Provider,
	}

	ref, err := o.sender.Send(ctx, d)
	if err != nil {
		if recErr := o.registry.RecordOutcome(ctx, ch, channel.OutcomeFailed); recErr != nil {
			o.logger.Warn("failed to record channel outcome", zap.Error(recErr))
		}
		o.fail(ctx, n, err.Error())
		return
	}

	if err := o.registry.RecordOutcome(ctx, ch, channel.OutcomeSent); err != nil {
		o.logger.Warn("failed to record channel outcome", zap.Error(err))
	}
	if err := o.store.MarkNotificationSent(ctx, n.ID, ref, &ch.ID); err != nil {
		o.logger.Error("sent but failed to persist status", zap.Error(err),
			zap.String("notification_id", n.ID.String()))
		return
	}
	n.Status = db.StatusSent
	n.ProviderRef = &ref
	n.ChannelID = &ch.ID

	metrics.RecordDelivery(db.StatusSent, n.Channel)
	metrics.RecordDeliveryLatency(n.Channel, time.Since(start))
	o.logger.Info("notification delivered",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("provider_ref", ref),
	)
}

func (o *Orchestrator) fail(ctx context.Context, n *db.Notification, msg string) {
	metrics.RecordDelivery(db.StatusFailed, n.Channel)
	if err := o.store.MarkNotificationFailed(ctx, n.ID, msg); err != nil {
		o.logger.Error("failed to persist failure", zap.Error(err),
			zap.String("notification_id", n.ID.String()))
		return
	}
	n.Status = db.StatusFailed
	n.ErrorMessage = &msg
	o.logger.Warn("notification delivery failed",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("error", msg),
	)
}

// SendBatch processes each request independently; one item's failure or
// skip never aborts the rest. Scheduled and queued items count as sent
// for accounting since they were accepted for delivery.
func (o *Orchestrator) SendBatch(ctx context.Context, reqs []*Request) *BatchResult {
	result := &BatchResult{Total: len(reqs), Items: make([]BatchItem, 0, len(reqs))}

	for i, req := range reqs {
		item := BatchItem{Index: i}
		res, err := o.CreateAndSend(ctx, req)
		switch {
		case err != nil:
			result.Failed++
			item.Status = db.StatusFailed
			item.Reason = err.Error()
		case res.Skipped:
			result.Skipped++
			item.Status = db.StatusSkipped
			item.Reason = res.Reason
		case res.Record.Status == db.StatusFailed:
			result.Failed++
			item.Status = db.StatusFailed
			item.ID = &res.Record.ID
			if res.Record.ErrorMessage != nil {
				item.Reason = *res.Record.ErrorMessage
			}
		case res.Record.Status == db.StatusSkipped:
			result.Skipped++
			item.Status = db.StatusSkipped
			item.ID = &res.Record.ID
			if res.Record.ErrorMessage != nil {
				item.Reason = *res.Record.ErrorMessage
			}
		default:
			result.Sent++
			item.Status = res.Record.Status
			item.ID = &res.Record.ID
		}
		result.Items = append(result.Items, item)
	}

	o.logger.Info("batch processed",
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result
}

// SendToRole fans one request out to every recipient holding the role.
func (o *Orchestrator) SendToRole(ctx context.Context, role string, req *Request) (*BatchResult, error) {
	ids, err := o.directory.Audience(ctx, role)
	if err != nil {
		return nil, err
	}

	reqs := make([]*Request, 0, len(ids))
	for _, id := range ids {
		r := *req
		r.RecipientID = id
		reqs = append(reqs, &r)
	}
	return o.SendBatch(ctx, reqs), nil
}

// ProcessScheduled claims up to limit due records and attempts delivery
// for each. The claim is a single atomic state transition, so repeated
// or concurrent invocation never double-sends a record.
func (o *Orchestrator) ProcessScheduled(ctx context.Context, limit int) (*SweepResult, error) {
	claimed, err := o.store.ClaimDueNotifications(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Total: len(claimed)}
	for _, n := range claimed {
		o.deliver(ctx, n)
		switch n.Status {
		case db.StatusSent:
			result.Sent++
			metrics.RecordSweep("scheduled", db.StatusSent)
		case db.StatusSkipped:
			result.Skipped++
			metrics.RecordSweep("scheduled", db.StatusSkipped)
		default:
			result.Failed++
			metrics.RecordSweep("scheduled", db.StatusFailed)
		}
	}

	if result.Total > 0 {
		o.logger.Info("scheduled sweep completed",
			zap.Int("total", result.Total),
			zap.Int("sent", result.Sent),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// ProcessExpired claims up to limit records past expiry and archives
// them. Best effort: an archive failure is counted and the sweep moves
// on.
func (o *Orchestrator) ProcessExpired(ctx context.Context, limit int) (*ExpiryResult, error) {
	claimed, err := o.store.ClaimExpiredNotifications(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &ExpiryResult{Total: len(claimed)}
	for _, n := range claimed {
		if err := o.store.ArchiveNotification(ctx, n.ID); err != nil {
			result.Failed++
			metrics.RecordSweep("expiry", db.StatusFailed)
			o.logger.Warn("failed to archive notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
			continue
		}
		result.Archived++
		metrics.RecordSweep("expiry", db.StatusArchived)
	}

	if result.Total > 0 {
		o.logger.Info("expiry sweep completed",
			zap.Int("total", result.Total),
			zap.Int("archived", result.Archived),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// DeliverQueued processes one queue message: claim the referenced
// record and deliver it. A record that is absent or already claimed
// makes redelivery a no-op.
func (o *Orchestrator) DeliverQueued(ctx context.Context, notificationID uuid.UUID) error {
	n, err := o.store.ClaimNotification(ctx, notificationID)
	if errors.Is(err, db.ErrNotFound) {
		o.logger.Debug("queued notification already handled",
			zap.String("notification_id", notificationID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	o.deliver(ctx, n)
	return nil
}
