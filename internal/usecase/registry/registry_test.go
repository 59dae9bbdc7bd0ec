package registry

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnisearch/internal/adapter/store"
	"omnisearch/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log,
		domain.CollectionSpec{Name: domain.CollectionEngines, Key: "id", Indexes: []string{"name", "enabled", "isDefault"}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := NewManager(st, nil, log)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func addEngine(t *testing.T, m *Manager, name, url string, enabled bool, sort int) string {
	t.Helper()
	id, err := m.AddEngine(context.Background(), domain.Engine{
		Name:        name,
		URLTemplate: url,
		Enabled:     enabled,
		SortOrder:   sort,
	})
	require.NoError(t, err)
	return id
}

func TestAddEngineFirstEnabledBecomesDefault(t *testing.T) {
	m := newTestManager(t)

	id := addEngine(t, m, "DuckDuckGo", "https://duckduckgo.com/?q={query}", true, 0)
	def, err := m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, id, def.ID)

	// Second engine does not steal the default.
	addEngine(t, m, "Google", "https://www.google.com/search?q={query}", true, 1)
	def, err = m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, id, def.ID)
}

func TestAddEngineValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		engine domain.Engine
	}{
		{"empty name", domain.Engine{URLTemplate: "https://e.com/?q={query}", Enabled: true}},
		{"symbol-only name", domain.Engine{Name: "!!!", URLTemplate: "https://e.com/?q={query}", Enabled: true}},
		{"missing placeholder", domain.Engine{Name: "E", URLTemplate: "https://e.com/?q=", Enabled: true}},
		{"relative url", domain.Engine{Name: "E", URLTemplate: "/search?q={query}", Enabled: true}},
		{"bad color", domain.Engine{Name: "E", URLTemplate: "https://e.com/?q={query}", Color: "red", Enabled: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.AddEngine(ctx, tc.engine)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestAddEngineDuplicates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	addEngine(t, m, "DuckDuckGo", "https://duckduckgo.com/?q={query}", true, 0)

	_, err := m.AddEngine(ctx, domain.Engine{
		Name: "duckduckgo", URLTemplate: "https://other.com/?q={query}", Enabled: true,
	})
	require.ErrorIs(t, err, domain.ErrDuplicateEngine, "name match is case-insensitive")

	_, err = m.AddEngine(ctx, domain.Engine{
		Name: "Other", URLTemplate: "https://duckduckgo.com/?q={query}", Enabled: true,
	})
	require.ErrorIs(t, err, domain.ErrDuplicateEngine, "url template must be unique")
}

func TestAddEngineSlugCollisionGetsSuffix(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id1 := addEngine(t, m, "Search", "https://one.com/?q={query}", true, 0)
	id2, err := m.AddEngine(ctx, domain.Engine{
		ID: id1, Name: "Search Two", URLTemplate: "https://two.com/?q={query}", Enabled: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id2, id1+"-")
}

func TestModifyEngine(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := addEngine(t, m, "DuckDuckGo", "https://duckduckgo.com/?q={query}", true, 0)

	newName := "DDG"
	got, err := m.ModifyEngine(ctx, id, domain.EnginePatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "DDG", got.Name)
	assert.Equal(t, "https://duckduckgo.com/?q={query}", got.URLTemplate)
	assert.True(t, got.ModifiedAt.After(got.CreatedAt) || got.ModifiedAt.Equal(got.CreatedAt))

	_, err = m.ModifyEngine(ctx, "missing", domain.EnginePatch{Name: &newName})
	require.ErrorIs(t, err, domain.ErrNotFound)

	bad := "no placeholder"
	_, err = m.ModifyEngine(ctx, id, domain.EnginePatch{URLTemplate: &bad})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestModifyEngineClearsOptionalFields(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.AddEngine(ctx, domain.Engine{
		Name:        "DuckDuckGo",
		URLTemplate: "https://duckduckgo.com/?q={query}",
		Icon:        "https://duckduckgo.com/favicon.ico",
		Color:       "#112233",
		Enabled:     true,
	})
	require.NoError(t, err)

	empty := ""
	got, err := m.ModifyEngine(ctx, id, domain.EnginePatch{Icon: &empty, Color: &empty})
	require.NoError(t, err)
	assert.Empty(t, got.Icon)
	assert.Empty(t, got.Color)

	// The cache refreshes from the store, so this proves the cleared
	// values were persisted, not just patched in memory.
	reloaded, err := m.GetEngine(id)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Icon)
	assert.Empty(t, reloaded.Color)
}

func TestDisableLastEnabledFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := addEngine(t, m, "Only", "https://only.com/?q={query}", true, 0)

	require.ErrorIs(t, m.ToggleEngine(ctx, id, false), domain.ErrLastEnabled)

	off := false
	_, err := m.ModifyEngine(ctx, id, domain.EnginePatch{Enabled: &off})
	require.ErrorIs(t, err, domain.ErrLastEnabled)
}

func TestDeleteLastEnabledFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := addEngine(t, m, "Only", "https://only.com/?q={query}", true, 0)
	addEngine(t, m, "Off", "https://off.com/?q={query}", false, 1)

	require.ErrorIs(t, m.DeleteEngine(ctx, id), domain.ErrLastEngine)

	// A disabled engine can always be deleted.
	require.NoError(t, m.DeleteEngine(ctx, "off"))
}

func TestDeleteDefaultPromotesReplacement(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a := addEngine(t, m, "Alpha", "https://a.com/?q={query}", true, 2)
	b := addEngine(t, m, "Beta", "https://b.com/?q={query}", true, 1)
	c := addEngine(t, m, "Gamma", "https://c.com/?q={query}", true, 1)

	require.NoError(t, m.DeleteEngine(ctx, a))

	// Tie on sortOrder 1 breaks on lowercase name: beta before gamma.
	def, err := m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, b, def.ID)
	_ = c
}

func TestDisableDefaultPromotesReplacement(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a := addEngine(t, m, "Alpha", "https://a.com/?q={query}", true, 0)
	b := addEngine(t, m, "Beta", "https://b.com/?q={query}", true, 1)

	require.NoError(t, m.ToggleEngine(ctx, a, false))

	def, err := m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, b, def.ID)

	got, err := m.GetEngine(a)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.False(t, got.IsDefault)
}

func TestSetDefaultIsExclusive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	addEngine(t, m, "Alpha", "https://a.com/?q={query}", true, 0)
	b := addEngine(t, m, "Beta", "https://b.com/?q={query}", true, 1)

	require.NoError(t, m.SetDefault(ctx, b))

	defaults := 0
	for _, e := range m.GetAllEngines() {
		if e.IsDefault {
			defaults++
			assert.Equal(t, b, e.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	require.ErrorIs(t, m.SetDefault(ctx, "missing"), domain.ErrNotFound)
}

func TestReenableIntoDefaultlessRegistry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Only disabled engines: adding them assigns no default.
	a := addEngine(t, m, "Alpha", "https://a.com/?q={query}", false, 0)
	addEngine(t, m, "Beta", "https://b.com/?q={query}", false, 1)

	_, err := m.GetDefaultEngine()
	require.ErrorIs(t, err, domain.ErrNoDefaultEngine)

	require.NoError(t, m.ToggleEngine(ctx, a, true))
	def, err := m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, a, def.ID)
}

func TestGetEnabledEnginesSorted(t *testing.T) {
	m := newTestManager(t)

	addEngine(t, m, "Zeta", "https://z.com/?q={query}", true, 0)
	addEngine(t, m, "Alpha", "https://a.com/?q={query}", true, 0)
	addEngine(t, m, "Mid", "https://m.com/?q={query}", false, 0)

	enabled := m.GetEnabledEngines()
	require.Len(t, enabled, 2)
	assert.Equal(t, "Alpha", enabled[0].Name)
	assert.Equal(t, "Zeta", enabled[1].Name)
}

func TestLoadPromotesDefaultAtStartup(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "test.db")
	spec := domain.CollectionSpec{Name: domain.CollectionEngines, Key: "id", Indexes: []string{"name", "enabled", "isDefault"}}

	st, err := store.Open(path, log, spec)
	require.NoError(t, err)
	ctx := context.Background()

	// Simulate persisted state with no default: both engines enabled.
	require.NoError(t, st.Create(ctx, domain.CollectionEngines, domain.Record{
		"id": "b", "name": "Beta", "urlTemplate": "https://b.com/?q={query}",
		"enabled": true, "isDefault": false, "sortOrder": float64(1),
	}))
	require.NoError(t, st.Create(ctx, domain.CollectionEngines, domain.Record{
		"id": "a", "name": "Alpha", "urlTemplate": "https://a.com/?q={query}",
		"enabled": true, "isDefault": false, "sortOrder": float64(1),
	}))

	m := NewManager(st, nil, log)
	require.NoError(t, m.Load(ctx))

	def, err := m.GetDefaultEngine()
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID, "tie on sortOrder breaks on name")
	require.NoError(t, st.Close())
}

func TestRegistrySurvivesReload(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "test.db")
	spec := domain.CollectionSpec{Name: domain.CollectionEngines, Key: "id", Indexes: []string{"name", "enabled", "isDefault"}}
	ctx := context.Background()

	st, err := store.Open(path, log, spec)
	require.NoError(t, err)
	m := NewManager(st, nil, log)
	require.NoError(t, m.Load(ctx))
	id, err := m.AddEngine(ctx, domain.Engine{
		Name: "DuckDuckGo", URLTemplate: "https://duckduckgo.com/?q={query}", Enabled: true,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := store.Open(path, log, spec)
	require.NoError(t, err)
	defer st2.Close()
	m2 := NewManager(st2, nil, log)
	require.NoError(t, m2.Load(ctx))

	got, err := m2.GetEngine(id)
	require.NoError(t, err)
	assert.Equal(t, "DuckDuckGo", got.Name)
	assert.True(t, got.IsDefault)
}
