package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"omnisearch/internal/domain"
)

// Manager wraps the engines collection with CRUD, invariant enforcement
// and an in-memory cache refreshed after every successful mutation.
//
// All mutations run under one mutex so overlapping SetDefault /
// DeleteEngine-with-promotion sequences are serialized: no concurrent
// reader ever observes zero or multiple default engines.
type Manager struct {
	store  domain.Store
	bus    domain.EventBus
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]domain.Engine
}

// NewManager creates a Manager. Call Load before serving reads.
func NewManager(store domain.Store, bus domain.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		logger: logger,
		cache:  make(map[string]domain.Engine),
	}
}

// Load populates the cache from the store and applies the startup
// auto-default rule: if engines exist but none is default, the
// deterministic tie-break winner is promoted and persisted.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshLocked(ctx); err != nil {
		return domain.WrapOp("Registry.Load", err)
	}
	if len(m.cache) == 0 || m.defaultLocked() != nil {
		return nil
	}
	promoted, err := m.promoteLocked(ctx, "")
	if err != nil {
		return domain.WrapOp("Registry.Load", err)
	}
	if promoted != nil {
		m.logger.Info("promoted default engine at startup", "id", promoted.ID)
	}
	return nil
}

// AddEngine validates, persists and caches a new engine, returning its id.
func (m *Manager) AddEngine(ctx context.Context, e domain.Engine) (string, error) {
	const op = "Registry.AddEngine"

	m.mu.Lock()
	defer m.mu.Unlock()

	e.Name = strings.TrimSpace(e.Name)
	e.URLTemplate = strings.TrimSpace(e.URLTemplate)
	if err := validateEngine(e); err != nil {
		return "", err
	}
	if err := m.checkDuplicateLocked(e, ""); err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID = slugify(e.Name)
	}
	if _, taken := m.cache[e.ID]; taken {
		e.ID = e.ID + "-" + shortID()
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.ModifiedAt = now

	// First enabled engine, or no default yet: this engine becomes default.
	if e.Enabled && m.defaultLocked() == nil {
		e.IsDefault = true
	}

	if e.IsDefault {
		if err := m.clearDefaultsLocked(ctx, e.ID); err != nil {
			return "", domain.WrapOp(op, err)
		}
	}
	if err := m.store.Create(ctx, domain.CollectionEngines, engineToRecord(e)); err != nil {
		return "", domain.WrapOp(op, err)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return "", domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventEngineCreated, e)
	m.logger.Info("engine added", "id", e.ID, "name", e.Name)
	return e.ID, nil
}

// ModifyEngine merges patch onto a copy of the engine, re-validates,
// re-checks duplicates against all other engines and persists.
func (m *Manager) ModifyEngine(ctx context.Context, id string, patch domain.EnginePatch) (*domain.Engine, error) {
	const op = "Registry.ModifyEngine"

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.cache[id]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrNotFound, id)
	}

	next := current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.URLTemplate != nil {
		next.URLTemplate = strings.TrimSpace(*patch.URLTemplate)
	}
	if patch.Icon != nil {
		next.Icon = *patch.Icon
	}
	if patch.Color != nil {
		next.Color = *patch.Color
	}
	if patch.SortOrder != nil {
		next.SortOrder = *patch.SortOrder
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}

	if err := validateEngine(next); err != nil {
		return nil, err
	}
	if err := m.checkDuplicateLocked(next, id); err != nil {
		return nil, err
	}
	if current.Enabled && !next.Enabled && m.enabledCountLocked() == 1 {
		return nil, domain.NewDomainError(op, domain.ErrLastEnabled, id)
	}

	next.ModifiedAt = time.Now().UTC()
	// json omitempty drops a cleared icon or color from a marshalled
	// record and the store merge would keep the old value; build the
	// update record explicitly so empty values persist.
	rec := domain.Record{
		"name":        next.Name,
		"urlTemplate": next.URLTemplate,
		"icon":        next.Icon,
		"color":       next.Color,
		"enabled":     next.Enabled,
		"sortOrder":   next.SortOrder,
		"modifiedAt":  next.ModifiedAt.Format(time.RFC3339Nano),
	}
	if _, err := m.store.Update(ctx, domain.CollectionEngines, id, rec); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	switch {
	case current.IsDefault && !next.Enabled:
		// Disabling the default hands the default to another enabled engine.
		if _, err := m.promoteLocked(ctx, id); err != nil {
			return nil, domain.WrapOp(op, err)
		}
	case !current.Enabled && next.Enabled && m.defaultLocked() == nil:
		if _, err := m.store.Update(ctx, domain.CollectionEngines, id, domain.Record{"isDefault": true}); err != nil {
			return nil, domain.WrapOp(op, err)
		}
	}
	if err := m.refreshLocked(ctx); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	updated := m.cache[id]
	m.emit(ctx, domain.EventEngineUpdated, updated)
	m.logger.Info("engine modified", "id", id)
	return &updated, nil
}

// DeleteEngine removes an engine. Deleting the sole enabled engine fails
// ErrLastEngine. Deleting the current default promotes a replacement
// before the delete completes, so readers never observe zero defaults.
func (m *Manager) DeleteEngine(ctx context.Context, id string) error {
	const op = "Registry.DeleteEngine"

	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.cache[id]
	if !ok {
		return domain.NewDomainError(op, domain.ErrNotFound, id)
	}
	if target.Enabled && m.enabledCountLocked() == 1 {
		return domain.NewDomainError(op, domain.ErrLastEngine, id)
	}

	if target.IsDefault {
		if _, err := m.promoteLocked(ctx, id); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if err := m.store.Delete(ctx, domain.CollectionEngines, id); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventEngineDeleted, target)
	m.logger.Info("engine deleted", "id", id)
	return nil
}

// SetDefault clears isDefault on every other engine and sets it on id.
// Both steps complete under the registry mutex as one unit.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	const op = "Registry.SetDefault"

	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.cache[id]
	if !ok {
		return domain.NewDomainError(op, domain.ErrNotFound, id)
	}
	if target.IsDefault {
		return nil
	}

	if err := m.clearDefaultsLocked(ctx, id); err != nil {
		return domain.WrapOp(op, err)
	}
	if _, err := m.store.Update(ctx, domain.CollectionEngines, id, domain.Record{
		"isDefault":  true,
		"modifiedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventEngineDefaultChanged, m.cache[id])
	m.logger.Info("default engine changed", "id", id)
	return nil
}

// ToggleEngine enables or disables an engine. Disabling the sole enabled
// engine fails ErrLastEnabled; disabling the default promotes a new one.
func (m *Manager) ToggleEngine(ctx context.Context, id string, enabled bool) error {
	const op = "Registry.ToggleEngine"

	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.cache[id]
	if !ok {
		return domain.NewDomainError(op, domain.ErrNotFound, id)
	}
	if target.Enabled == enabled {
		return nil
	}
	if !enabled && m.enabledCountLocked() == 1 {
		return domain.NewDomainError(op, domain.ErrLastEnabled, id)
	}

	if _, err := m.store.Update(ctx, domain.CollectionEngines, id, domain.Record{
		"enabled":    enabled,
		"modifiedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return domain.WrapOp(op, err)
	}

	switch {
	case !enabled && target.IsDefault:
		if _, err := m.promoteLocked(ctx, id); err != nil {
			return domain.WrapOp(op, err)
		}
	case enabled && m.defaultLocked() == nil:
		// Re-enabling into a defaultless registry: this engine takes it.
		if _, err := m.store.Update(ctx, domain.CollectionEngines, id, domain.Record{"isDefault": true}); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if err := m.refreshLocked(ctx); err != nil {
		return domain.WrapOp(op, err)
	}

	m.emit(ctx, domain.EventEngineUpdated, m.cache[id])
	m.logger.Info("engine toggled", "id", id, "enabled", enabled)
	return nil
}

// GetAllEngines returns every engine ordered by sortOrder, name, id.
func (m *Manager) GetAllEngines() []domain.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Engine, 0, len(m.cache))
	for _, e := range m.cache {
		out = append(out, e)
	}
	sortEngines(out)
	return out
}

// GetEnabledEngines returns the enabled subset in display order.
func (m *Manager) GetEnabledEngines() []domain.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Engine
	for _, e := range m.cache {
		if e.Enabled {
			out = append(out, e)
		}
	}
	sortEngines(out)
	return out
}

// GetActiveEngines is the multi-engine fan-out set: the enabled engines.
func (m *Manager) GetActiveEngines() []domain.Engine {
	return m.GetEnabledEngines()
}

// GetDefaultEngine returns the single default engine.
func (m *Manager) GetDefaultEngine() (*domain.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e := m.defaultLocked(); e != nil {
		out := *e
		return &out, nil
	}
	return nil, domain.NewDomainError("Registry.GetDefaultEngine", domain.ErrNoDefaultEngine, "")
}

// GetEngine returns the engine with the given id.
func (m *Manager) GetEngine(id string) (*domain.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cache[id]
	if !ok {
		return nil, domain.NewDomainError("Registry.GetEngine", domain.ErrNotFound, id)
	}
	out := e
	return &out, nil
}

// --- internals (callers hold m.mu) ---

func (m *Manager) refreshLocked(ctx context.Context) error {
	recs, err := m.store.GetAll(ctx, domain.CollectionEngines)
	if err != nil {
		return err
	}
	cache := make(map[string]domain.Engine, len(recs))
	for _, rec := range recs {
		e, err := engineFromRecord(rec)
		if err != nil {
			return err
		}
		cache[e.ID] = e
	}
	m.cache = cache
	return nil
}

func (m *Manager) defaultLocked() *domain.Engine {
	for id := range m.cache {
		if m.cache[id].IsDefault {
			e := m.cache[id]
			return &e
		}
	}
	return nil
}

func (m *Manager) enabledCountLocked() int {
	n := 0
	for _, e := range m.cache {
		if e.Enabled {
			n++
		}
	}
	return n
}

// checkDuplicateLocked rejects an engine whose name (case-insensitive) or
// url template matches any engine other than exclude.
func (m *Manager) checkDuplicateLocked(e domain.Engine, exclude string) error {
	name := strings.ToLower(e.Name)
	for _, other := range m.cache {
		if other.ID == exclude {
			continue
		}
		if strings.ToLower(other.Name) == name {
			return domain.NewDomainError("Registry", domain.ErrDuplicateEngine, "name: "+e.Name)
		}
		if other.URLTemplate == e.URLTemplate {
			return domain.NewDomainError("Registry", domain.ErrDuplicateEngine, "url: "+e.URLTemplate)
		}
	}
	return nil
}

func (m *Manager) clearDefaultsLocked(ctx context.Context, except string) error {
	for _, e := range m.cache {
		if e.IsDefault && e.ID != except {
			if _, err := m.store.Update(ctx, domain.CollectionEngines, e.ID, domain.Record{"isDefault": false}); err != nil {
				return err
			}
		}
	}
	return nil
}

// promoteLocked picks the replacement default among enabled engines other
// than exclude, using the deterministic tie-break (sortOrder, then name,
// then id), persists it and returns it. Returns nil when no candidate.
func (m *Manager) promoteLocked(ctx context.Context, exclude string) (*domain.Engine, error) {
	var candidates []domain.Engine
	for _, e := range m.cache {
		if e.Enabled && e.ID != exclude {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortEngines(candidates)
	winner := candidates[0]

	if err := m.clearDefaultsLocked(ctx, winner.ID); err != nil {
		return nil, err
	}
	if _, err := m.store.Update(ctx, domain.CollectionEngines, winner.ID, domain.Record{"isDefault": true}); err != nil {
		return nil, err
	}
	winner.IsDefault = true
	m.cache[winner.ID] = winner
	m.emit(ctx, domain.EventEngineDefaultChanged, winner)
	return &winner, nil
}

func (m *Manager) emit(ctx context.Context, t domain.EventType, e domain.Engine) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("marshal engine event payload", "error", err)
		return
	}
	m.bus.Publish(ctx, domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// sortEngines orders by sortOrder, then case-insensitive name, then id —
// the same tie-break used for default promotion.
func sortEngines(engines []domain.Engine) {
	sort.Slice(engines, func(i, j int) bool {
		if engines[i].SortOrder != engines[j].SortOrder {
			return engines[i].SortOrder < engines[j].SortOrder
		}
		ni, nj := strings.ToLower(engines[i].Name), strings.ToLower(engines[j].Name)
		if ni != nj {
			return ni < nj
		}
		return engines[i].ID < engines[j].ID
	})
}

func shortID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy).String()
	return strings.ToLower(id[len(id)-6:])
}

func engineToRecord(e domain.Engine) domain.Record {
	raw, _ := json.Marshal(e)
	var rec domain.Record
	_ = json.Unmarshal(raw, &rec)
	return rec
}

func engineFromRecord(rec domain.Record) (domain.Engine, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.Engine{}, err
	}
	var e domain.Engine
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.Engine{}, fmt.Errorf("decode engine record: %w", err)
	}
	return e, nil
}
