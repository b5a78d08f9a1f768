package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/template"
)

// GetPreference handles GET /v1/preferences/{recipientID}
// A recipient who never wrote a preference document gets the defaults.
func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.parseID(w, chi.URLParam(r, "recipientID"), "recipient ID")
	if !ok {
		return
	}

	pref, err := h.preferences.GetOrDefaultPreference(r.Context(), recipientID)
	if err != nil {
		h.logger.Error("failed to get preference", zap.Error(err), zap.String("recipient_id", recipientID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get preference", "")
		return
	}

	h.writeJSON(w, http.StatusOK, pref)
}

// PutPreference handles PUT /v1/preferences/{recipientID}
// Replaces the recipient's whole preference document.
func (h *Handler) PutPreference(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.parseID(w, chi.URLParam(r, "recipientID"), "recipient ID")
	if !ok {
		return
	}

	pref, err := h.preferences.GetOrDefaultPreference(r.Context(), recipientID)
	if err != nil {
		h.logger.Error("failed to load preference", zap.Error(err), zap.String("recipient_id", recipientID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load preference", "")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(pref); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	// The path, not the body, owns the identity.
	pref.RecipientID = recipientID
	pref.UpdatedAt = time.Now()

	if err := h.preferences.SavePreference(r.Context(), pref); err != nil {
		h.logger.Error("failed to save preference", zap.Error(err), zap.String("recipient_id", recipientID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to save preference", "")
		return
	}

	h.writeJSON(w, http.StatusOK, pref)
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
	Device   string `json:"device,omitempty"`
}

// AddPushToken handles POST /v1/preferences/{recipientID}/push-tokens
func (h *Handler) AddPushToken(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.parseID(w, chi.URLParam(r, "recipientID"), "recipient ID")
	if !ok {
		return
	}

	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Token == "" || req.Platform == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "token and platform are required")
		return
	}

	if err := h.preferences.UpsertPushToken(r.Context(), recipientID, req.Token, req.Platform, req.Device); err != nil {
		h.logger.Error("failed to upsert push token", zap.Error(err), zap.String("recipient_id", recipientID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register push token", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// RemovePushToken handles DELETE /v1/preferences/{recipientID}/push-tokens/{token}
func (h *Handler) RemovePushToken(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.parseID(w, chi.URLParam(r, "recipientID"), "recipient ID")
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")

	err := h.preferences.RemovePushToken(r.Context(), recipientID, token)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Push token not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to remove push token", zap.Error(err), zap.String("recipient_id", recipientID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to remove push token", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListChannels handles GET /v1/channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.ListChannels(r.Context())
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list channels", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  channels,
		"count": len(channels),
	})
}

type createChannelRequest struct {
	Name         string               `json:"name"`
	Type         channel.Type         `json:"type"`
	Status       channel.Status       `json:"status,omitempty"`
	Provider     json.RawMessage      `json:"provider"`
	Capabilities channel.Capabilities `json:"capabilities"`
	RateLimit    channel.RateLimit    `json:"rate_limit"`
	Tags         []string             `json:"tags,omitempty"`
}

// CreateChannel handles POST /v1/channels
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Name == "" || req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and type are required")
		return
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"type":   req.Type,
		"config": req.Provider,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid provider config", err.Error())
		return
	}
	provider, err := channel.DecodeProvider(envelope)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid provider config", err.Error())
		return
	}

	status := req.Status
	if status == "" {
		status = channel.StatusTesting
	}

	now := time.Now()
	ch := &channel.Channel{
		ID:           uuid.New(),
		Name:         req.Name,
		Type:         req.Type,
		Status:       status,
		Provider:     provider,
		Capabilities: req.Capabilities,
		RateLimit:    req.RateLimit,
		Tags:         req.Tags,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.channels.CreateChannel(r.Context(), ch); err != nil {
		h.logger.Error("failed to create channel", zap.Error(err), zap.String("name", req.Name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create channel", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, ch)
}

// GetChannel handles GET /v1/channels/{id}
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "channel ID")
	if !ok {
		return
	}

	ch, err := h.channels.GetChannel(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Channel not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get channel", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get channel", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ch)
}

// TestChannel handles POST /v1/channels/{id}/test
// Exercises the channel's provider and updates its status accordingly.
func (h *Handler) TestChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "channel ID")
	if !ok {
		return
	}

	ch, err := h.channels.GetChannel(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Channel not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get channel", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get channel", "")
		return
	}

	result, err := h.registry.Test(r.Context(), ch, h.probe)
	if err != nil {
		h.logger.Error("channel test could not run", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to test channel", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListTemplateVersions handles GET /v1/templates?name=xxx
func (h *Handler) ListTemplateVersions(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing name", "name query parameter is required")
		return
	}

	versions, err := h.templates.ListTemplateVersions(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to list template versions", zap.Error(err), zap.String("name", name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list template versions", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  versions,
		"count": len(versions),
	})
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "template ID")
	if !ok {
		return
	}

	tmpl, err := h.templates.GetTemplate(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get template", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get template", "")
		return
	}

	h.writeJSON(w, http.StatusOK, tmpl)
}

type previewRequest struct {
	Channel   channel.Type      `json:"channel"`
	Variables map[string]string `json:"variables,omitempty"`
}

type previewResponse struct {
	Content   *template.Content `json:"content"`
	Variables map[string]string `json:"variables"`
}

// PreviewTemplate handles POST /v1/templates/{id}/preview
// Missing required variables are filled with example values, so a
// preview never fails variable validation.
func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "template ID")
	if !ok {
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Channel == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing channel", "channel is required")
		return
	}

	content, effective, err := h.templater.Preview(r.Context(), id, req.Variables, req.Channel)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	if errors.Is(err, template.ErrUnsupportedChannel) {
		h.writeError(w, http.StatusBadRequest, "unsupported_channel", "Template does not support this channel", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("template preview failed", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to preview template", "")
		return
	}

	h.writeJSON(w, http.StatusOK, previewResponse{Content: content, Variables: effective})
}

type createVersionRequest struct {
	Description *string                   `json:"description,omitempty"`
	Variables   []template.Variable       `json:"variables,omitempty"`
	Channels    []template.ChannelContent `json:"channels,omitempty"`
	Active      *bool                     `json:"active,omitempty"`
}

// CreateTemplateVersion handles POST /v1/templates/{id}/versions
// Versions are append-only; the source version is never mutated.
func (h *Handler) CreateTemplateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "template ID")
	if !ok {
		return
	}

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	next, err := h.templater.CreateVersion(r.Context(), id, template.VersionUpdate{
		Description: req.Description,
		Variables:   req.Variables,
		Channels:    req.Channels,
		Active:      req.Active,
	})
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to create template version", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create template version", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, next)
}
