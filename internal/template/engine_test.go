package template

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

var errStoreNotFound = errors.New("not found")

type fakeStore struct {
	templates map[uuid.UUID]*Template
	created   []*Template
}

func (s *fakeStore) LatestTemplate(ctx context.Context, name string) (*Template, error) {
	var latest *Template
	for _, t := range s.templates {
		if t.Name == name && t.Active && (latest == nil || t.Version > latest.Version) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("template %s: %w", name, errStoreNotFound)
	}
	return latest, nil
}

func (s *fakeStore) TemplateVersion(ctx context.Context, name string, version int) (*Template, error) {
	for _, t := range s.templates {
		if t.Name == name && t.Version == version {
			return t, nil
		}
	}
	return nil, fmt.Errorf("template %s v%d: %w", name, version, errStoreNotFound)
}

func (s *fakeStore) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, errStoreNotFound)
	}
	return t, nil
}

func (s *fakeStore) CreateTemplate(ctx context.Context, t *Template) error {
	s.templates[t.ID] = t
	s.created = append(s.created, t)
	return nil
}

func newEngineFixture() (*Engine, *fakeStore) {
	store := &fakeStore{templates: map[uuid.UUID]*Template{}}
	return NewEngine(store, zap.NewNop()), store
}

func seed(store *fakeStore, t *Template) *Template {
	store.templates[t.ID] = t
	return t
}

func TestEngine_RenderResolvesLatestVersion(t *testing.T) {
	engine, store := newEngineFixture()
	seed(store, &Template{
		ID: uuid.New(), Name: "welcome", Version: 1, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v1"}},
	})
	seed(store, &Template{
		ID: uuid.New(), Name: "welcome", Version: 3, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v3"}},
	})

	content, err := engine.Render(context.Background(), "welcome", nil, channel.TypeInApp)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content.Body != "v3" {
		t.Errorf("body = %q, want latest version", content.Body)
	}
}

func TestEngine_RenderVersionPins(t *testing.T) {
	engine, store := newEngineFixture()
	seed(store, &Template{
		ID: uuid.New(), Name: "welcome", Version: 1, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v1"}},
	})
	seed(store, &Template{
		ID: uuid.New(), Name: "welcome", Version: 2, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v2"}},
	})

	content, err := engine.RenderVersion(context.Background(), "welcome", 1, nil, channel.TypeInApp)
	if err != nil {
		t.Fatalf("render version: %v", err)
	}
	if content.Body != "v1" {
		t.Errorf("body = %q, want pinned v1", content.Body)
	}
}

func TestEngine_RenderValidationFailure(t *testing.T) {
	engine, store := newEngineFixture()
	seed(store, &Template{
		ID: uuid.New(), Name: "strict", Version: 1, Active: true,
		Variables: []Variable{{Name: "who", Required: true}},
		Channels:  []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "hi {{who}}"}},
	})

	_, err := engine.Render(context.Background(), "strict", nil, channel.TypeInApp)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestEngine_PreviewNeverFailsValidation(t *testing.T) {
	engine, store := newEngineFixture()
	tmpl := seed(store, &Template{
		ID: uuid.New(), Name: "strict", Version: 1, Active: true,
		Variables: []Variable{{Name: "who", Required: true, Example: "Ada"}},
		Channels:  []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "hi {{who}}"}},
	})

	content, effective, err := engine.Preview(context.Background(), tmpl.ID, nil, channel.TypeInApp)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if content.Body != "hi Ada" {
		t.Errorf("body = %q, want example filled", content.Body)
	}
	if effective["who"] != "Ada" {
		t.Errorf("effective vars = %v", effective)
	}
}

func TestEngine_PreviewStillRejectsUnsupportedChannel(t *testing.T) {
	engine, store := newEngineFixture()
	tmpl := seed(store, &Template{
		ID: uuid.New(), Name: "inapp_only", Version: 1, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "x"}},
	})

	_, _, err := engine.Preview(context.Background(), tmpl.ID, nil, channel.TypeEmail)
	if !errors.Is(err, ErrUnsupportedChannel) {
		t.Errorf("err = %v, want ErrUnsupportedChannel", err)
	}
}

func TestEngine_CreateVersionPersistsNext(t *testing.T) {
	engine, store := newEngineFixture()
	tmpl := seed(store, &Template{
		ID: uuid.New(), Name: "welcome", Version: 1, Active: true,
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v1"}},
	})

	next, err := engine.CreateVersion(context.Background(), tmpl.ID, VersionUpdate{
		Channels: []ChannelContent{{Type: channel.TypeInApp, Enabled: true, Body: "v2"}},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("version = %d, want 2", next.Version)
	}
	if len(store.created) != 1 || store.created[0] != next {
		t.Error("new version not persisted through the store")
	}

	// The latest lookup now resolves the new version.
	content, err := engine.Render(context.Background(), "welcome", nil, channel.TypeInApp)
	if err != nil {
		t.Fatalf("render after version: %v", err)
	}
	if content.Body != "v2" {
		t.Errorf("body = %q, want new version", content.Body)
	}
}
