package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/directory"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/orchestrator"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/redis"
	"github.com/lalithlochan/courier/internal/template"
)

// Engine is the orchestrator surface the API drives.
type Engine interface {
	CreateAndSend(ctx context.Context, req *orchestrator.Request) (*orchestrator.SendResult, error)
	SendBatch(ctx context.Context, reqs []*orchestrator.Request) *orchestrator.BatchResult
	SendToRole(ctx context.Context, role string, req *orchestrator.Request) (*orchestrator.BatchResult, error)
	ProcessScheduled(ctx context.Context, limit int) (*orchestrator.SweepResult, error)
	ProcessExpired(ctx context.Context, limit int) (*orchestrator.ExpiryResult, error)
}

// NotificationStore is the read surface for persisted records.
type NotificationStore interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotificationsByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*db.Notification, error)
	CountNotificationsByStatus(ctx context.Context) (map[string]int64, error)
}

// PreferenceStore is the persistence surface for preference documents.
type PreferenceStore interface {
	GetOrDefaultPreference(ctx context.Context, recipientID uuid.UUID) (*preference.Preference, error)
	SavePreference(ctx context.Context, p *preference.Preference) error
	UpsertPushToken(ctx context.Context, recipientID uuid.UUID, token, platform, device string) error
	RemovePushToken(ctx context.Context, recipientID uuid.UUID, token string) error
}

// ChannelStore is the persistence surface for channel configuration.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]*channel.Channel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*channel.Channel, error)
	CreateChannel(ctx context.Context, c *channel.Channel) error
}

// TemplateStore is the read surface for template versions.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*template.Template, error)
	ListTemplateVersions(ctx context.Context, name string) ([]*template.Template, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger        *zap.Logger
	engine        Engine
	notifications NotificationStore
	preferences   PreferenceStore
	channels      ChannelStore
	templates     TemplateStore
	registry      *channel.Registry
	templater     *template.Engine
	probe         channel.Probe
	idempotency   *redis.IdempotencyService // nil if Redis not configured
}

// Deps bundles the handler's collaborators.
type Deps struct {
	Engine        Engine
	Notifications NotificationStore
	Preferences   PreferenceStore
	Channels      ChannelStore
	Templates     TemplateStore
	Registry      *channel.Registry
	Templater     *template.Engine
	Probe         channel.Probe
	Idempotency   *redis.IdempotencyService
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	return &Handler{
		logger:        logger,
		engine:        deps.Engine,
		notifications: deps.Notifications,
		preferences:   deps.Preferences,
		channels:      deps.Channels,
		templates:     deps.Templates,
		registry:      deps.Registry,
		templater:     deps.Templater,
		probe:         deps.Probe,
		idempotency:   deps.Idempotency,
	}
}

// Routes mounts all handlers under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/notifications", h.CreateNotification)
	r.Post("/notifications/batch", h.SendBatch)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Post("/roles/{role}/notifications", h.SendToRole)

	r.Post("/sweeps/scheduled", h.RunScheduledSweep)
	r.Post("/sweeps/expired", h.RunExpirySweep)

	r.Get("/preferences/{recipientID}", h.GetPreference)
	r.Put("/preferences/{recipientID}", h.PutPreference)
	r.Post("/preferences/{recipientID}/push-tokens", h.AddPushToken)
	r.Delete("/preferences/{recipientID}/push-tokens/{token}", h.RemovePushToken)

	r.Get("/channels", h.ListChannels)
	r.Post("/channels", h.CreateChannel)
	r.Get("/channels/{id}", h.GetChannel)
	r.Post("/channels/{id}/test", h.TestChannel)

	r.Get("/templates", h.ListTemplateVersions)
	r.Get("/templates/{id}", h.GetTemplate)
	r.Post("/templates/{id}/preview", h.PreviewTemplate)
	r.Post("/templates/{id}/versions", h.CreateTemplateVersion)
}

// CreateNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.RecipientID.String(), idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cached.NotificationID})
			return
		}
	}

	result, err := h.engine.CreateAndSend(ctx, &req)
	if err != nil {
		h.writeSendError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		// Skips are a non-error outcome; the request was understood.
		status = http.StatusOK
	}

	if idempotencyKey != "" && h.idempotency != nil && !result.Skipped {
		stored := &redis.IdempotencyResult{
			NotificationID: result.Record.ID.String(),
			StatusCode:     status,
		}
		if err := h.idempotency.Store(ctx, req.RecipientID.String(), idempotencyKey, stored); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, status, result)
}

// SendBatch handles POST /v1/notifications/batch
func (h *Handler) SendBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []*orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(reqs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty batch", "at least one notification is required")
		return
	}

	result := h.engine.SendBatch(r.Context(), reqs)
	h.writeJSON(w, http.StatusOK, result)
}

// SendToRole handles POST /v1/roles/{role}/notifications
func (h *Handler) SendToRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if role == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing role", "")
		return
	}

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := h.engine.SendToRole(r.Context(), role, &req)
	if err != nil {
		h.writeSendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "notification ID")
	if !ok {
		return
	}

	notif, err := h.notifications.GetNotification(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	h.writeJSON(w, http.StatusOK, notif)
}

// ListNotifications handles GET /v1/notifications?recipient_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipientStr := r.URL.Query().Get("recipient_id")
	if recipientStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient_id", "recipient_id query parameter is required")
		return
	}
	recipientID, err := uuid.Parse(recipientStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.notifications.ListNotificationsByRecipient(r.Context(), recipientID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("recipient_id", recipientStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// RunScheduledSweep handles POST /v1/sweeps/scheduled?limit=100
func (h *Handler) RunScheduledSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ProcessScheduled(r.Context(), h.sweepLimit(r))
	if err != nil {
		h.logger.Error("scheduled sweep failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sweep_error", "Scheduled sweep failed", "")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RunExpirySweep handles POST /v1/sweeps/expired?limit=100
func (h *Handler) RunExpirySweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ProcessExpired(r.Context(), h.sweepLimit(r))
	if err != nil {
		h.logger.Error("expiry sweep failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sweep_error", "Expiry sweep failed", "")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) sweepLimit(r *http.Request) int {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	return limit
}

// writeSendError maps pipeline errors onto HTTP statuses.
func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	var verr *orchestrator.ValidationError
	var terr *template.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", verr.Error())
	case errors.As(err, &terr):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing template variables", terr.Error())
	case errors.Is(err, template.ErrUnsupportedChannel):
		h.writeError(w, http.StatusBadRequest, "unsupported_channel", "Template does not support this channel", err.Error())
	case errors.Is(err, directory.ErrUnknownRecipient):
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown recipient", err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", err.Error())
	case errors.Is(err, channel.ErrChannelUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "No active channel available", err.Error())
	case errors.Is(err, channel.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Channel rate limit exceeded", err.Error())
	default:
		h.logger.Error("notification send failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process notification", "")
	}
}

func (h *Handler) parseID(w http.ResponseWriter, raw, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+label, "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
