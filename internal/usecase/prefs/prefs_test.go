package prefs

import (
	"context"
	"errors"
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
		domain.CollectionSpec{Name: domain.CollectionPreferences, Key: "key", Indexes: []string{"category"}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(st, log)
}

func TestGetFallsBackToDefault(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	p, err := m.Get(ctx, domain.PrefEnableHistory)
	require.NoError(t, err)
	assert.Equal(t, true, p.Value)

	_, err = m.Get(ctx, "unknown-key")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetShadowsDefault(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.PrefEnableHistory, false, ""))

	p, err := m.Get(ctx, domain.PrefEnableHistory)
	require.NoError(t, err)
	assert.Equal(t, false, p.Value)
	assert.NotEmpty(t, p.Category, "category inherited from the default")
}

func TestSetIsUpsert(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "custom", "a", "misc"))
	require.NoError(t, m.Set(ctx, "custom", "b", "misc"))

	p, err := m.Get(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Value)
}

func TestGetBoolAndGetInt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	assert.True(t, m.GetBool(ctx, domain.PrefEnableHistory, false))
	assert.False(t, m.GetBool(ctx, "missing", false))
	assert.True(t, m.GetBool(ctx, "missing", true))

	require.NoError(t, m.Set(ctx, domain.PrefHistoryMax, 250, ""))
	assert.Equal(t, 250, m.GetInt(ctx, domain.PrefHistoryMax, 500))
	assert.Equal(t, 7, m.GetInt(ctx, "missing", 7))

	// Type mismatch falls back rather than failing.
	require.NoError(t, m.Set(ctx, "oddball", "not a number", "misc"))
	assert.Equal(t, 9, m.GetInt(ctx, "oddball", 9))
	assert.True(t, m.GetBool(ctx, "oddball", true))
}

func TestAllMergesStoredOverDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.PrefShowSuggestions, false, ""))
	require.NoError(t, m.Set(ctx, "custom", 1.5, "misc"))

	all, err := m.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, all[domain.PrefShowSuggestions].Value)
	assert.Contains(t, all, domain.PrefEnableHistory, "untouched defaults still present")
	assert.Contains(t, all, "custom")
}

func TestByCategory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", 1, "display"))
	require.NoError(t, m.Set(ctx, "b", 2, "display"))
	require.NoError(t, m.Set(ctx, "c", 3, "privacy"))

	got, err := m.ByCategory(ctx, "display")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// updateFailStore fails every Update with a fixed error. The embedded
// nil Store panics if any other method is reached.
type updateFailStore struct {
	domain.Store
	err error
}

func (s *updateFailStore) Update(context.Context, string, string, domain.Record) (domain.Record, error) {
	return nil, s.err
}

func TestSetPropagatesUpdateFailure(t *testing.T) {
	errBoom := errors.New("disk on fire")
	m := NewManager(&updateFailStore{err: errBoom}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := m.Set(context.Background(), "custom", "v", "misc")
	require.ErrorIs(t, err, errBoom, "a non-NotFound update failure surfaces as-is, not as a create error")
}

func TestClearRevertsToDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, domain.PrefEnableHistory, false, ""))
	require.NoError(t, m.Clear(ctx))

	assert.True(t, m.GetBool(ctx, domain.PrefEnableHistory, false))
}
