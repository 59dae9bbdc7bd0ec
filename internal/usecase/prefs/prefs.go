package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"omnisearch/internal/domain"
)

// Manager serves preferences: stored values shadow the built-in defaults
// at read time, so absent keys always resolve.
type Manager struct {
	store    domain.Store
	logger   *slog.Logger
	defaults map[string]domain.Preference

	mu sync.Mutex
}

// NewManager creates a Manager over the preferences collection.
func NewManager(store domain.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		defaults: domain.DefaultPreferences(),
	}
}

// Get returns the stored preference for key, or its built-in default.
func (m *Manager) Get(ctx context.Context, key string) (domain.Preference, error) {
	rec, err := m.store.Get(ctx, domain.CollectionPreferences, key)
	if err == nil {
		return prefFromRecord(rec)
	}
	if def, ok := m.defaults[key]; ok {
		return def, nil
	}
	return domain.Preference{}, domain.NewDomainError("Prefs.Get", domain.ErrNotFound, key)
}

// GetBool resolves key as a boolean, returning fallback on any miss or
// type mismatch. History gating uses this and must never fail a search.
func (m *Manager) GetBool(ctx context.Context, key string, fallback bool) bool {
	p, err := m.Get(ctx, key)
	if err != nil {
		return fallback
	}
	if b, ok := p.Value.(bool); ok {
		return b
	}
	return fallback
}

// GetInt resolves key as an integer, returning fallback on any miss.
// JSON round-trips store numbers as float64.
func (m *Manager) GetInt(ctx context.Context, key string, fallback int) int {
	p, err := m.Get(ctx, key)
	if err != nil {
		return fallback
	}
	switch v := p.Value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Set upserts a preference.
func (m *Manager) Set(ctx context.Context, key string, value any, category string) error {
	const op = "Prefs.Set"

	m.mu.Lock()
	defer m.mu.Unlock()

	if category == "" {
		if def, ok := m.defaults[key]; ok {
			category = def.Category
		}
	}
	rec := prefToRecord(domain.Preference{Key: key, Value: value, Category: category})

	_, err := m.store.Update(ctx, domain.CollectionPreferences, key, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.WrapOp(op, err)
	}
	return domain.WrapOp(op, m.store.Create(ctx, domain.CollectionPreferences, rec))
}

// All returns the defaults merged with every stored preference.
func (m *Manager) All(ctx context.Context) (map[string]domain.Preference, error) {
	recs, err := m.store.GetAll(ctx, domain.CollectionPreferences)
	if err != nil {
		return nil, domain.WrapOp("Prefs.All", err)
	}
	out := domain.DefaultPreferences()
	for _, rec := range recs {
		p, err := prefFromRecord(rec)
		if err != nil {
			return nil, domain.WrapOp("Prefs.All", err)
		}
		out[p.Key] = p
	}
	return out, nil
}

// ByCategory returns stored preferences in the given category via the
// store's secondary index.
func (m *Manager) ByCategory(ctx context.Context, category string) ([]domain.Preference, error) {
	recs, err := m.store.QueryByIndex(ctx, domain.CollectionPreferences, "category", category)
	if err != nil {
		return nil, domain.WrapOp("Prefs.ByCategory", err)
	}
	out := make([]domain.Preference, 0, len(recs))
	for _, rec := range recs {
		p, err := prefFromRecord(rec)
		if err != nil {
			return nil, domain.WrapOp("Prefs.ByCategory", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Clear removes every stored preference, reverting reads to defaults.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.WrapOp("Prefs.Clear", m.store.Clear(ctx, domain.CollectionPreferences))
}

func prefToRecord(p domain.Preference) domain.Record {
	raw, _ := json.Marshal(p)
	var rec domain.Record
	_ = json.Unmarshal(raw, &rec)
	return rec
}

func prefFromRecord(rec domain.Record) (domain.Preference, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.Preference{}, err
	}
	var p domain.Preference
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Preference{}, err
	}
	return p, nil
}
