package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds persistent store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// SearchConfig holds dispatcher settings.
type SearchConfig struct {
	SearchesPerMin float64 `yaml:"searches_per_min"` // 0 disables rate limiting
	Burst          int     `yaml:"burst"`
}

// HistoryConfig holds history log settings.
type HistoryConfig struct {
	MaxEntries    int    `yaml:"max_entries"`
	RetentionDays int    `yaml:"retention_days"` // 0 disables age-based pruning
	PruneSchedule string `yaml:"prune_schedule"` // cron expression
}

// SeedConfig holds first-run seeding settings.
type SeedConfig struct {
	Path string `yaml:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Search  SearchConfig  `yaml:"search"`
	History HistoryConfig `yaml:"history"`
	Seed    SeedConfig    `yaml:"seed"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".omnisearch")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "omnisearch.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Search: SearchConfig{
			SearchesPerMin: 0,
			Burst:          5,
		},
		History: HistoryConfig{
			MaxEntries:    500,
			RetentionDays: 0,
			PruneSchedule: "@hourly",
		},
		Seed: SeedConfig{
			Path: filepath.Join(dataDir, "seed.json"),
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	if cfg.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must be >= 0")
	}
	return nil
}
