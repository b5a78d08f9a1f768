package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/template"
)

const templateColumns = `
	id, name, version, active, description, variables, channels, created_at, updated_at
`

func scanTemplate(row pgx.Row) (*template.Template, error) {
	var t template.Template
	var variables, channels []byte

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Version,
		&t.Active,
		&t.Description,
		&variables,
		&channels,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variables, &t.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables for template %s: %w", t.Name, err)
	}
	if err := json.Unmarshal(channels, &t.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels for template %s: %w", t.Name, err)
	}
	return &t, nil
}

// CreateTemplate inserts a template version. The (name, version) pair
// is unique; active-name uniqueness is checked across distinct names
// only, so new versions of an existing name always pass.
func (r *Repository) CreateTemplate(ctx context.Context, t *template.Template) error {
	variables, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	channels, err := json.Marshal(t.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	query := `
		INSERT INTO templates (id, name, version, active, description, variables, channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		t.ID, t.Name, t.Version, t.Active, t.Description, variables, channels,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create template",
			zap.Error(err),
			zap.String("name", t.Name),
			zap.Int("version", t.Version),
		)
		return fmt.Errorf("insert template: %w", err)
	}

	r.logger.Info("template created",
		zap.String("template_id", t.ID.String()),
		zap.String("name", t.Name),
		zap.Int("version", t.Version),
	)
	return nil
}

// GetTemplate retrieves a template by ID.
func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	t, err := scanTemplate(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

// LatestTemplate retrieves the highest active version of a named template.
func (r *Repository) LatestTemplate(ctx context.Context, name string) (*template.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE name = $1 AND active
		ORDER BY version DESC
		LIMIT 1
	`

	t, err := scanTemplate(r.db.Pool().QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest template: %w", err)
	}
	return t, nil
}

// TemplateVersion retrieves one pinned version of a named template.
func (r *Repository) TemplateVersion(ctx context.Context, name string, version int) (*template.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE name = $1 AND version = $2`

	t, err := scanTemplate(r.db.Pool().QueryRow(ctx, query, name, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s v%d: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template version: %w", err)
	}
	return t, nil
}

// ListTemplateVersions returns all versions of a named template, newest
// first.
func (r *Repository) ListTemplateVersions(ctx context.Context, name string) ([]*template.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE name = $1 ORDER BY version DESC`

	rows, err := r.db.Pool().Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("query template versions: %w", err)
	}
	defer rows.Close()

	var out []*template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
