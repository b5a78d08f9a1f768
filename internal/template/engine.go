package template

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// Store is the persistence surface the engine needs.
type Store interface {
	LatestTemplate(ctx context.Context, name string) (*Template, error)
	TemplateVersion(ctx context.Context, name string, version int) (*Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	CreateTemplate(ctx context.Context, t *Template) error
}

// Engine resolves templates by name/version and renders them.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine creates a template engine.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Render resolves the latest version of a named template, validates the
// variables, and renders for the channel.
func (e *Engine) Render(ctx context.Context, name string, vars map[string]string, ch channel.Type) (*Content, error) {
	t, err := e.store.LatestTemplate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s: %w", name, err)
	}
	return RenderContent(t, vars, ch)
}

// RenderVersion renders a specific pinned version.
func (e *Engine) RenderVersion(ctx context.Context, name string, version int, vars map[string]string, ch channel.Type) (*Content, error) {
	t, err := e.store.TemplateVersion(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s v%d: %w", name, version, err)
	}
	return RenderContent(t, vars, ch)
}

// Preview renders a template by id with missing required variables
// substituted by example values. Preview never fails variable
// validation; it still fails for an unknown template or a channel the
// template does not support. Returns the rendered content and the
// effective variable set used.
func (e *Engine) Preview(ctx context.Context, id uuid.UUID, vars map[string]string, ch channel.Type) (*Content, map[string]string, error) {
	t, err := e.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve template %s: %w", id, err)
	}

	effective := PreviewVars(t, vars)
	content, err := RenderContent(t, effective, ch)
	if err != nil {
		return nil, nil, err
	}
	return content, effective, nil
}

// CreateVersion persists the next version of the template identified by
// id, applying the update on top of the source version. The source
// version is left untouched.
func (e *Engine) CreateVersion(ctx context.Context, id uuid.UUID, u VersionUpdate) (*Template, error) {
	src, err := e.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s: %w", id, err)
	}

	next := NewVersion(src, u)
	if err := e.store.CreateTemplate(ctx, next); err != nil {
		return nil, fmt.Errorf("create template version: %w", err)
	}

	e.logger.Info("template version created",
		zap.String("name", next.Name),
		zap.Int("version", next.Version),
		zap.String("id", next.ID.String()),
	)
	return next, nil
}
