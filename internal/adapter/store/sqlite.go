package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"omnisearch/internal/domain"
)

// schemaVersion is the current store schema. Upgrades are additive: the
// version row is only ever raised, existing tables and indexes are never
// dropped.
const schemaVersion = 1

type queryStrategy int

const (
	strategyIndexed queryStrategy = iota
	strategyScan
)

// SQLiteStore implements domain.Store over a single SQLite file. Records
// are JSON documents in a shared table; declared secondary indexes live in
// a sidecar index table keyed by (collection, field, value).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	specs  map[string]domain.CollectionSpec

	// strategy is fixed per declared index at open time by the capability
	// probe; it is read-only afterwards.
	strategy map[string]queryStrategy

	mu     sync.Mutex
	warned map[string]bool
}

// Open opens (or creates) the store at dbPath, runs the additive schema
// migration, declares the given collections and probes index capability
// for each declared index.
func Open(dbPath string, logger *slog.Logger, specs ...domain.CollectionSpec) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w: %v", domain.ErrStoreUnavailable, err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		logger:   logger,
		specs:    make(map[string]domain.CollectionSpec, len(specs)),
		strategy: make(map[string]queryStrategy),
		warned:   make(map[string]bool),
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	s.probeIndexes()

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			doc        TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		);

		CREATE TABLE IF NOT EXISTS record_index (
			collection TEXT NOT NULL,
			field      TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			PRIMARY KEY (collection, field, key)
		);
		CREATE INDEX IF NOT EXISTS idx_record_lookup
			ON record_index (collection, field, value);

		CREATE TABLE IF NOT EXISTS schema_meta (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow("SELECT version FROM schema_meta WHERE id = 1")
	switch err := row.Scan(&current); {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec("INSERT INTO schema_meta (id, version) VALUES (1, ?)", schemaVersion)
		return err
	case err != nil:
		return err
	}
	if current < schemaVersion {
		_, err = s.db.Exec("UPDATE schema_meta SET version = ? WHERE id = 1", schemaVersion)
		return err
	}
	return nil
}

// probeIndexes decides indexed-vs-scan per declared index once, instead of
// a per-call try/catch fallback. An index that fails the roundtrip is
// pinned to full-scan for the life of the process.
func (s *SQLiteStore) probeIndexes() {
	for _, spec := range s.specs {
		for _, field := range spec.Indexes {
			k := strategyKey(spec.Name, field)
			if err := s.probeOne(spec.Name, field); err != nil {
				s.strategy[k] = strategyScan
				s.logger.Warn("index unavailable, queries fall back to full scan",
					"collection", spec.Name, "field", field, "error", err)
				continue
			}
			s.strategy[k] = strategyIndexed
		}
	}
}

func (s *SQLiteStore) probeOne(collection, field string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const probeKey = "\x00__probe__"
	if _, err := tx.Exec(
		"INSERT INTO record_index (collection, field, key, value) VALUES (?, ?, ?, ?)",
		collection, field, probeKey, "probe",
	); err != nil {
		return err
	}
	var got string
	if err := tx.QueryRow(
		"SELECT value FROM record_index WHERE collection = ? AND field = ? AND key = ?",
		collection, field, probeKey,
	).Scan(&got); err != nil {
		return err
	}
	return nil // rollback discards the probe row
}

func strategyKey(collection, field string) string {
	return collection + "." + field
}

func (s *SQLiteStore) spec(collection string) (domain.CollectionSpec, error) {
	spec, ok := s.specs[collection]
	if !ok {
		return domain.CollectionSpec{}, fmt.Errorf("unknown collection %q", collection)
	}
	return spec, nil
}

// recordKey extracts the primary key declared for the collection.
func recordKey(spec domain.CollectionSpec, rec domain.Record) (string, error) {
	v, ok := rec[spec.Key]
	if !ok {
		return "", fmt.Errorf("record missing key field %q: %w", spec.Key, domain.ErrInvalidInput)
	}
	key, ok := v.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("record key field %q must be a non-empty string: %w", spec.Key, domain.ErrInvalidInput)
	}
	return key, nil
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, rec domain.Record) error {
	spec, err := s.spec(collection)
	if err != nil {
		return err
	}
	key, err := recordKey(spec, rec)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO records (collection, key, doc) VALUES (?, ?, ?)",
		collection, key, string(doc),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", collection, key, domain.ErrAlreadyExists)
		}
		return err
	}
	if err := s.writeIndexRows(ctx, tx, spec, key, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (domain.Record, error) {
	if _, err := s.spec(collection); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM records WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRecord(doc)
}

func (s *SQLiteStore) Update(ctx context.Context, collection, key string, partial domain.Record) (domain.Record, error) {
	spec, err := s.spec(collection)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx,
		"SELECT doc FROM records WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec, err := unmarshalRecord(doc)
	if err != nil {
		return nil, err
	}
	for k, v := range partial {
		if k == spec.Key {
			continue // primary key is immutable
		}
		rec[k] = v
	}

	merged, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET doc = ? WHERE collection = ? AND key = ?",
		string(merged), collection, key,
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM record_index WHERE collection = ? AND key = ?",
		collection, key,
	); err != nil {
		return nil, err
	}
	if err := s.writeIndexRows(ctx, tx, spec, key, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.spec(collection); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND key = ?", collection, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM record_index WHERE collection = ? AND key = ?", collection, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAll(ctx context.Context, collection string) ([]domain.Record, error) {
	if _, err := s.spec(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM records WHERE collection = ? ORDER BY key", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := unmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryByIndex(ctx context.Context, collection, field string, value any) ([]domain.Record, error) {
	if _, err := s.spec(collection); err != nil {
		return nil, err
	}

	encoded, encodable := encodeIndexValue(value)
	strategy, declared := s.strategy[strategyKey(collection, field)]
	if declared && strategy == strategyIndexed && encodable {
		return s.queryIndexed(ctx, collection, field, encoded)
	}
	s.warnScanOnce(collection, field)
	return s.queryScan(ctx, collection, field, value)
}

func (s *SQLiteStore) queryIndexed(ctx context.Context, collection, field, encoded string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.doc FROM records r
		JOIN record_index i ON i.collection = r.collection AND i.key = r.key
		WHERE i.collection = ? AND i.field = ? AND i.value = ?
		ORDER BY r.key
	`, collection, field, encoded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := unmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// queryScan is the degraded path: full collection read plus manual filter.
func (s *SQLiteStore) queryScan(ctx context.Context, collection, field string, value any) ([]domain.Record, error) {
	all, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	want, _ := encodeIndexValue(value)
	var out []domain.Record
	for _, rec := range all {
		got, ok := encodeIndexValue(rec[field])
		if ok && got == want {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SQLiteStore) warnScanOnce(collection, field string) {
	k := strategyKey(collection, field)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[k] {
		return
	}
	s.warned[k] = true
	s.logger.Warn("query running in degraded full-scan mode",
		"collection", collection, "field", field)
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.spec(collection); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE collection = ?", collection).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	if _, err := s.spec(collection); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ?", collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM record_index WHERE collection = ?", collection); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) writeIndexRows(ctx context.Context, tx *sql.Tx, spec domain.CollectionSpec, key string, rec domain.Record) error {
	for _, field := range spec.Indexes {
		v, ok := rec[field]
		if !ok {
			continue
		}
		encoded, encodable := encodeIndexValue(v)
		if !encodable {
			// Unindexable value type: queries on this field use the scan path.
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO record_index (collection, field, key, value) VALUES (?, ?, ?, ?)",
			spec.Name, field, key, encoded,
		); err != nil {
			return err
		}
	}
	return nil
}

// encodeIndexValue normalizes an index value to a canonical string key.
// JSON round-trips turn ints into float64, so all numbers share one
// canonical form. Returns false for types that cannot serve as index keys.
func encodeIndexValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return "s:" + x, true
	case bool:
		return "b:" + strconv.FormatBool(x), true
	case float64:
		return "n:" + strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return "n:" + strconv.FormatFloat(float64(x), 'f', -1, 64), true
	case int:
		return "n:" + strconv.FormatFloat(float64(x), 'f', -1, 64), true
	case int64:
		return "n:" + strconv.FormatFloat(float64(x), 'f', -1, 64), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return "", false
		}
		return "n:" + strconv.FormatFloat(f, 'f', -1, 64), true
	default:
		return "", false
	}
}

func unmarshalRecord(doc string) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
