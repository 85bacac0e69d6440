package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"

	"statusmon/internal/models"
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path to the database file.
	Path string
	// BusyTimeout is the lock wait in milliseconds (default 5000).
	BusyTimeout int
	// MaxConnections caps the connection pool (default 4).
	MaxConnections int
}

// SQLiteStore keeps one row per (collection, key) in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialise schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, key)
	);`)
	return err
}

// Upsert writes rec under key, replacing any previous row.
func (s *SQLiteStore) Upsert(ctx context.Context, collection, key string, rec models.StatusRecord) error {
	if err := checkUpsert(collection, key, rec); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrInvalidRecord, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, key, string(body), time.Now().UnixNano())
	return unavailable("sqlite upsert", err)
}

// Get returns the record stored under key.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (models.StatusRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND key = ?`, collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StatusRecord{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	if err != nil {
		return models.StatusRecord{}, unavailable("sqlite get", err)
	}
	return decodeRecord([]byte(body))
}

// SearchAll streams rows ordered by key; the query is issued when ranging starts.
func (s *SQLiteStore) SearchAll(ctx context.Context, collection string) iter.Seq2[models.StatusRecord, error] {
	return func(yield func(models.StatusRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT body FROM documents WHERE collection = ? ORDER BY key`, collection)
		if err != nil {
			yield(models.StatusRecord{}, unavailable("sqlite search", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var body string
			if err := rows.Scan(&body); err != nil {
				yield(models.StatusRecord{}, unavailable("sqlite scan", err))
				return
			}
			rec, err := decodeRecord([]byte(body))
			if err != nil {
				yield(models.StatusRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.StatusRecord{}, unavailable("sqlite search", err))
		}
	}
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeRecord(body []byte) (models.StatusRecord, error) {
	var rec models.StatusRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return models.StatusRecord{}, fmt.Errorf("%w: decode stored record: %v", ErrUnavailable, err)
	}
	return rec, nil
}
