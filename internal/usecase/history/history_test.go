package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnisearch/internal/adapter/store"
	"omnisearch/internal/domain"
	"omnisearch/internal/usecase/prefs"
)

func newTestManager(t *testing.T, maxEntries int) (*Manager, *prefs.Manager) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log,
		domain.CollectionSpec{Name: domain.CollectionHistory, Key: "id", Indexes: []string{"query", "timestamp"}},
		domain.CollectionSpec{Name: domain.CollectionPreferences, Key: "key", Indexes: []string{"category"}},
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pf := prefs.NewManager(st, log)
	return NewManager(st, pf, nil, log, maxEntries, 0), pf
}

func TestSaveAndLoadRecent(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	for _, q := range []string{"rust book", "go generics", "rust async"} {
		require.NoError(t, m.SaveEntry(ctx, q, []string{"ddg"}))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "rust async", entries[0].Query, "newest first")
	assert.Equal(t, "rust book", entries[2].Query)
	assert.Equal(t, []string{"ddg"}, entries[0].EngineIDs)
}

func TestLoadRecentFilterAndLimit(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	for _, q := range []string{"Rust Book", "go generics", "rust async"} {
		require.NoError(t, m.SaveEntry(ctx, q, nil))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := m.LoadRecent(ctx, 10, "rust")
	require.NoError(t, err)
	require.Len(t, entries, 2, "filter is case-insensitive")

	entries, err = m.LoadRecent(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rust async", entries[0].Query)
}

func TestEvictionKeepsNewest(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three", "four"} {
		require.NoError(t, m.SaveEntry(ctx, q, nil))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "four", entries[0].Query)
	assert.Equal(t, "two", entries[2].Query, "oldest entry evicted")
}

func TestHistoryMaxPreferenceOverridesConfig(t *testing.T) {
	m, pf := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, pf.Set(ctx, domain.PrefHistoryMax, 2, ""))

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, m.SaveEntry(ctx, q, nil))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDisabledHistoryWritesNothing(t *testing.T) {
	m, pf := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, pf.Set(ctx, domain.PrefEnableHistory, false, ""))
	require.NoError(t, m.SaveEntry(ctx, "secret query", nil))

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSuggestRanking(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	for _, q := range []string{"rust book", "ruby gems", "python"} {
		require.NoError(t, m.SaveEntry(ctx, q, nil))
	}

	got, err := m.Suggest(ctx, "ru", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "python never matches")
	assert.Equal(t, "ruby gems", got[0].Query, "equal prefix scores break on query text")
	assert.Equal(t, "rust book", got[1].Query)
	assert.Equal(t, scorePrefix, got[0].Score)
}

func TestSuggestScoreTiers(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	for _, q := range []string{"rust", "rust async", "learn rust", "go channels"} {
		require.NoError(t, m.SaveEntry(ctx, q, nil))
	}

	got, err := m.Suggest(ctx, "rust", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "rust", got[0].Query)
	assert.Equal(t, scoreExact, got[0].Score)
	assert.Equal(t, "rust async", got[1].Query)
	assert.Equal(t, scorePrefix, got[1].Score)
	assert.Equal(t, "learn rust", got[2].Query)
	assert.Equal(t, scoreSubstring, got[2].Score)
}

func TestSuggestWordOverlap(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, m.SaveEntry(ctx, "async rust tutorial", nil))

	// "rust tokio": "rust" matches, "tokio" does not; half the words.
	got, err := m.Suggest(ctx, "rust tokio", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, scoreWordBase/2, got[0].Score, 0.001)
}

func TestSuggestDeduplicatesAndLimits(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, m.SaveEntry(ctx, "rust book", nil))
	require.NoError(t, m.SaveEntry(ctx, "Rust Book", nil))
	require.NoError(t, m.SaveEntry(ctx, "rust async", nil))

	got, err := m.Suggest(ctx, "rust", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2, "case-insensitive duplicates collapse")

	got, err = m.Suggest(ctx, "rust", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSuggestEmptyPartial(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, m.SaveEntry(ctx, "rust", nil))

	got, err := m.Suggest(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, m.SaveEntry(ctx, "rust", nil))
	require.NoError(t, m.Clear(ctx))

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPruneOlderThan(t *testing.T) {
	m, _ := newTestManager(t, 100)
	ctx := context.Background()

	require.NoError(t, m.SaveEntry(ctx, "old query", nil))
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.SaveEntry(ctx, "new query", nil))

	removed, err := m.PruneOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := m.LoadRecent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new query", entries[0].Query)
}
