package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kaptinlin/jsonschema"

	"omnisearch/internal/domain"
	"omnisearch/internal/usecase/prefs"
	"omnisearch/internal/usecase/registry"
)

// FormatVersion is the export payload version this build writes.
const FormatVersion = 1

// MergeMode controls how an import section is applied.
type MergeMode string

const (
	// ModeMerge adds imported items alongside existing ones; duplicate
	// engines are skipped, matching preference keys are overwritten.
	ModeMerge MergeMode = "merge"
	// ModeReplace clears the existing section first.
	ModeReplace MergeMode = "replace"
)

// ExportFile is the config export/import payload.
type ExportFile struct {
	Version     int             `json:"version"`
	Engines     []domain.Engine `json:"engines"`
	Preferences map[string]any  `json:"preferences,omitempty"`
}

// SeedEngine is one engine in the first-run seed file; "url" is the
// template field's short name in seed files.
type SeedEngine struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	Enabled   bool   `json:"enabled"`
	IsDefault bool   `json:"isDefault"`
	SortOrder int    `json:"sortOrder"`
}

// SeedFile is loaded once, only when the engines collection is empty.
type SeedFile struct {
	Engines     []SeedEngine   `json:"engines"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// Manager handles config export/import and first-run seeding.
type Manager struct {
	store    domain.Store
	registry *registry.Manager
	prefs    *prefs.Manager
	logger   *slog.Logger
}

// NewManager creates a transfer Manager.
func NewManager(store domain.Store, reg *registry.Manager, p *prefs.Manager, logger *slog.Logger) *Manager {
	return &Manager{store: store, registry: reg, prefs: p, logger: logger}
}

// Export returns the full configuration as a portable payload.
func (m *Manager) Export(ctx context.Context) (*ExportFile, error) {
	all, err := m.prefs.All(ctx)
	if err != nil {
		return nil, domain.WrapOp("Transfer.Export", err)
	}
	preferences := make(map[string]any, len(all))
	for k, p := range all {
		preferences[k] = p.Value
	}
	return &ExportFile{
		Version:     FormatVersion,
		Engines:     m.registry.GetAllEngines(),
		Preferences: preferences,
	}, nil
}

// Import applies a config payload. Engines and preferences have
// independent merge-vs-replace modes. The payload is schema-validated
// before anything is written.
func (m *Manager) Import(ctx context.Context, data []byte, engineMode, prefMode MergeMode) error {
	const op = "Transfer.Import"

	if err := validatePayload(importSchema, data); err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}
	var payload ExportFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}

	if err := m.importEngines(ctx, payload.Engines, engineMode); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := m.importPreferences(ctx, payload.Preferences, prefMode); err != nil {
		return domain.WrapOp(op, err)
	}
	m.logger.Info("config imported",
		"engines", len(payload.Engines), "engine_mode", string(engineMode),
		"preferences", len(payload.Preferences), "pref_mode", string(prefMode))
	return nil
}

func (m *Manager) importEngines(ctx context.Context, engines []domain.Engine, mode MergeMode) error {
	if mode == ModeReplace {
		if err := m.store.Clear(ctx, domain.CollectionEngines); err != nil {
			return err
		}
		if err := m.registry.Load(ctx); err != nil {
			return err
		}
	}
	for _, e := range engines {
		if _, err := m.registry.AddEngine(ctx, e); err != nil {
			if errors.Is(err, domain.ErrDuplicateEngine) {
				m.logger.Warn("skipping duplicate engine on import", "name", e.Name)
				continue
			}
			return fmt.Errorf("import engine %q: %w", e.Name, err)
		}
	}
	return nil
}

func (m *Manager) importPreferences(ctx context.Context, preferences map[string]any, mode MergeMode) error {
	if mode == ModeReplace {
		if err := m.prefs.Clear(ctx); err != nil {
			return err
		}
	}
	for k, v := range preferences {
		if err := m.prefs.Set(ctx, k, v, ""); err != nil {
			return err
		}
	}
	return nil
}

// Seed loads the seed file at path, but only when the engines collection
// is empty. A missing file is not an error.
func (m *Manager) Seed(ctx context.Context, path string) error {
	const op = "Transfer.Seed"

	count, err := m.store.Count(ctx, domain.CollectionEngines)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Info("no seed file, starting empty", "path", path)
			return nil
		}
		return domain.WrapOp(op, err)
	}

	if err := validatePayload(seedSchema, data); err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}

	for _, se := range seed.Engines {
		e := domain.Engine{
			ID:          se.ID,
			Name:        se.Name,
			URLTemplate: se.URL,
			Icon:        se.Icon,
			Color:       se.Color,
			Enabled:     se.Enabled,
			IsDefault:   se.IsDefault,
			SortOrder:   se.SortOrder,
		}
		if _, err := m.registry.AddEngine(ctx, e); err != nil {
			return fmt.Errorf("seed engine %q: %w", se.Name, err)
		}
	}
	for k, v := range seed.Preferences {
		if err := m.prefs.Set(ctx, k, v, ""); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	m.logger.Info("seeded initial configuration",
		"engines", len(seed.Engines), "preferences", len(seed.Preferences))
	return nil
}

// validatePayload validates raw JSON against a JSON Schema.
func validatePayload(schemaSrc string, data []byte) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(schemaSrc))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	result := schema.Validate(parsed)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}
