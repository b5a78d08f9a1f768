// Package template validates and renders named, versioned notification
// templates against caller-supplied variables.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/courier/internal/channel"
)

// ErrUnsupportedChannel means the template does not declare support for
// the requested channel.
var ErrUnsupportedChannel = errors.New("template does not support channel")

// ValidationError aggregates every missing required variable rather
// than failing on the first.
type ValidationError struct {
	Template string
	Missing  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template %s: missing required variables: %s",
		e.Template, strings.Join(e.Missing, ", "))
}

// Variable declares one template variable.
type Variable struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Example  string `json:"example,omitempty"`
}

// ChannelContent is the per-channel content block of a template.
// Subject is meaningful for email, Title for push and in-app; Body is
// used by every channel.
type ChannelContent struct {
	Type    channel.Type `json:"type"`
	Enabled bool         `json:"enabled"`
	Subject string       `json:"subject,omitempty"`
	Title   string       `json:"title,omitempty"`
	Body    string       `json:"body"`
}

// Template is a named template at one version. Versions are monotonic
// per name; name uniqueness is enforced only across active distinct
// names, never across versions of the same name.
type Template struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Version     int              `json:"version"`
	Active      bool             `json:"active"`
	Description string           `json:"description,omitempty"`
	Variables   []Variable       `json:"variables"`
	Channels    []ChannelContent `json:"channels"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Content is rendered output. Which fields are populated depends on the
// channel's content block.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// substitute replaces {{name}} placeholders with variable values.
// Unknown placeholders are left intact so they surface in review.
func substitute(s string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Validate checks that every required variable is present, collecting
// all missing names into one ValidationError.
func Validate(t *Template, vars map[string]string) error {
	var missing []string
	for _, v := range t.Variables {
		if !v.Required {
			continue
		}
		if _, ok := vars[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{Template: t.Name, Missing: missing}
	}
	return nil
}

// channelContent finds the enabled content block for a channel.
func channelContent(t *Template, ch channel.Type) (*ChannelContent, error) {
	for i := range t.Channels {
		if t.Channels[i].Type == ch {
			if !t.Channels[i].Enabled {
				return nil, fmt.Errorf("%w: %s disabled on template %s", ErrUnsupportedChannel, ch, t.Name)
			}
			return &t.Channels[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s not declared on template %s", ErrUnsupportedChannel, ch, t.Name)
}

// RenderContent validates variables and renders the template for one
// channel. Pure function of (template, variables, channel).
func RenderContent(t *Template, vars map[string]string, ch channel.Type) (*Content, error) {
	if err := Validate(t, vars); err != nil {
		return nil, err
	}
	cc, err := channelContent(t, ch)
	if err != nil {
		return nil, err
	}
	return &Content{
		Subject: substitute(cc.Subject, vars),
		Title:   substitute(cc.Title, vars),
		Body:    substitute(cc.Body, vars),
	}, nil
}

// PreviewVars fills in missing required variables: the declared example
// value when present, else a synthesized "[Example <name>]" placeholder.
// Optional variables contribute their example when one exists.
func PreviewVars(t *Template, vars map[string]string) map[string]string {
	out := make(map[string]string, len(t.Variables)+len(vars))
	for k, v := range vars {
		out[k] = v
	}
	for _, v := range t.Variables {
		if _, ok := out[v.Name]; ok {
			continue
		}
		switch {
		case v.Example != "":
			out[v.Name] = v.Example
		case v.Required:
			out[v.Name] = fmt.Sprintf("[Example %s]", v.Name)
		}
	}
	return out
}

// VersionUpdate holds the fields a new template version overrides.
// Nil fields carry forward from the source version.
type VersionUpdate struct {
	Description *string
	Variables   []Variable
	Channels    []ChannelContent
	Active      *bool
}

// NewVersion produces the next version of a template: same name, next
// integer version, unspecified fields carried forward. The source
// template is not mutated.
func NewVersion(src *Template, u VersionUpdate) *Template {
	now := time.Now()
	next := &Template{
		ID:          uuid.New(),
		Name:        src.Name,
		Version:     src.Version + 1,
		Active:      src.Active,
		Description: src.Description,
		Variables:   append([]Variable(nil), src.Variables...),
		Channels:    append([]ChannelContent(nil), src.Channels...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Variables != nil {
		next.Variables = u.Variables
	}
	if u.Channels != nil {
		next.Channels = u.Channels
	}
	if u.Active != nil {
		next.Active = *u.Active
	}
	return next
}
