package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"omnisearch/internal/domain"
	"omnisearch/internal/usecase/prefs"
)

// Suggestion scores, highest to lowest match quality. Partial word
// overlap scales below scoreSubstring.
const (
	scoreExact     = 100.0
	scorePrefix    = 80.0
	scoreSubstring = 60.0
	scoreWordBase  = 40.0
)

// Manager is the bounded, best-effort query history log.
type Manager struct {
	store  domain.Store
	prefs  *prefs.Manager
	bus    domain.EventBus
	logger *slog.Logger

	maxEntries    int
	retentionDays int

	mu sync.Mutex
}

// NewManager creates a Manager. maxEntries bounds the collection (the
// stored historyMax preference overrides it); retentionDays is used by
// the scheduled pruning job, 0 disables age-based pruning.
func NewManager(store domain.Store, p *prefs.Manager, bus domain.EventBus, logger *slog.Logger, maxEntries, retentionDays int) *Manager {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &Manager{
		store:         store,
		prefs:         p,
		bus:           bus,
		logger:        logger,
		maxEntries:    maxEntries,
		retentionDays: retentionDays,
	}
}

// SaveEntry appends one history entry and evicts the oldest entries past
// the configured maximum. It only writes when the enableHistory
// preference is true. History is best-effort: callers fire-and-forget.
func (m *Manager) SaveEntry(ctx context.Context, query string, engineIDs []string) error {
	const op = "History.SaveEntry"

	if !m.prefs.GetBool(ctx, domain.PrefEnableHistory, true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := domain.HistoryEntry{
		ID:          newID(),
		Query:       query,
		EngineIDs:   engineIDs,
		Timestamp:   time.Now().UTC(),
		ResultCount: 0,
	}
	if err := m.store.Create(ctx, domain.CollectionHistory, entryToRecord(entry)); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := m.evictLocked(ctx); err != nil {
		return domain.WrapOp(op, err)
	}

	if m.bus != nil {
		payload, _ := json.Marshal(entry)
		m.bus.Publish(ctx, domain.Event{
			Type:      domain.EventHistorySaved,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
	return nil
}

// evictLocked removes the oldest entries by timestamp until the
// collection is back at the limit.
func (m *Manager) evictLocked(ctx context.Context) error {
	max := m.prefs.GetInt(ctx, domain.PrefHistoryMax, m.maxEntries)
	if max <= 0 {
		max = m.maxEntries
	}
	count, err := m.store.Count(ctx, domain.CollectionHistory)
	if err != nil {
		return err
	}
	if count <= max {
		return nil
	}

	entries, err := m.loadAll(ctx)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	for _, e := range entries[:count-max] {
		if err := m.store.Delete(ctx, domain.CollectionHistory, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// LoadRecent returns up to limit entries, newest first, optionally
// filtered by a case-insensitive substring match on the query.
func (m *Manager) LoadRecent(ctx context.Context, limit int, substringFilter string) ([]domain.HistoryEntry, error) {
	entries, err := m.loadAll(ctx)
	if err != nil {
		return nil, domain.WrapOp("History.LoadRecent", err)
	}

	if substringFilter != "" {
		needle := strings.ToLower(substringFilter)
		filtered := entries[:0]
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Query), needle) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Suggest scores every distinct prior query against the partial input:
// exact match highest, then prefix, then substring, then the fraction of
// the partial's whitespace-delimited words found in the candidate.
func (m *Manager) Suggest(ctx context.Context, partial string, limit int) ([]domain.Suggestion, error) {
	entries, err := m.loadAll(ctx)
	if err != nil {
		return nil, domain.WrapOp("History.Suggest", err)
	}

	needle := strings.ToLower(strings.TrimSpace(partial))
	if needle == "" {
		return nil, nil
	}
	words := strings.Fields(needle)

	seen := make(map[string]bool)
	var out []domain.Suggestion
	for _, e := range entries {
		key := strings.ToLower(e.Query)
		if seen[key] {
			continue
		}
		seen[key] = true

		score := scoreQuery(key, needle, words)
		if score <= 0 {
			continue
		}
		out = append(out, domain.Suggestion{Query: e.Query, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Query < out[j].Query
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scoreQuery(candidate, needle string, words []string) float64 {
	switch {
	case candidate == needle:
		return scoreExact
	case strings.HasPrefix(candidate, needle):
		return scorePrefix
	case strings.Contains(candidate, needle):
		return scoreSubstring
	}
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if strings.Contains(candidate, w) {
			matched++
		}
	}
	return scoreWordBase * float64(matched) / float64(len(words))
}

// Clear removes all history entries.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx, domain.CollectionHistory); err != nil {
		return domain.WrapOp("History.Clear", err)
	}
	if m.bus != nil {
		m.bus.Publish(ctx, domain.Event{Type: domain.EventHistoryCleared, Timestamp: time.Now()})
	}
	return nil
}

// PruneOlderThan deletes entries older than the cutoff. Returns the
// number of entries removed.
func (m *Manager) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.loadAll(ctx)
	if err != nil {
		return 0, domain.WrapOp("History.PruneOlderThan", err)
	}
	removed := 0
	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			if err := m.store.Delete(ctx, domain.CollectionHistory, e.ID); err != nil {
				return removed, domain.WrapOp("History.PruneOlderThan", err)
			}
			removed++
		}
	}
	return removed, nil
}

// ScheduleRetention registers the age-based pruning job on the given cron
// runner. No-op when retention is disabled.
func (m *Manager) ScheduleRetention(c *cron.Cron, schedule string) (cron.EntryID, error) {
	if m.retentionDays <= 0 {
		return 0, nil
	}
	return c.AddFunc(schedule, func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
		n, err := m.PruneOlderThan(context.Background(), cutoff)
		if err != nil {
			m.logger.Warn("history retention prune failed", "error", err)
			return
		}
		if n > 0 {
			m.logger.Info("history retention prune", "removed", n)
		}
	})
}

func (m *Manager) loadAll(ctx context.Context) ([]domain.HistoryEntry, error) {
	recs, err := m.store.GetAll(ctx, domain.CollectionHistory)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := entryFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func entryToRecord(e domain.HistoryEntry) domain.Record {
	raw, _ := json.Marshal(e)
	var rec domain.Record
	_ = json.Unmarshal(raw, &rec)
	return rec
}

func entryFromRecord(rec domain.Record) (domain.HistoryEntry, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	var e domain.HistoryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.HistoryEntry{}, err
	}
	return e, nil
}
