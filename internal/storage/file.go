package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"statusmon/internal/models"
)

// FileStore handles persistence of current status records to a single JSON
// document on disk.
type FileStore struct {
	mu   sync.RWMutex
	path string
	docs documents
}

// NewFileStore creates a file-backed store and loads existing records if present.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &FileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert stores rec under key and persists the whole document.
func (s *FileStore) Upsert(ctx context.Context, collection, key string, rec models.StatusRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("upsert", err)
	}
	if err := checkUpsert(collection, key, rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.docs.put(collection, key, rec)
	if err := s.persist(); err != nil {
		s.docs.restore(collection, key, prev, existed)
		return unavailable("upsert", err)
	}
	return nil
}

// Get returns the record stored under key.
func (s *FileStore) Get(ctx context.Context, collection, key string) (models.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.StatusRecord{}, unavailable("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs.get(collection, key)
	if !ok {
		return models.StatusRecord{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	return rec, nil
}

// SearchAll yields a copy of the collection taken when ranging starts.
func (s *FileStore) SearchAll(ctx context.Context, collection string) iter.Seq2[models.StatusRecord, error] {
	return func(yield func(models.StatusRecord, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(models.StatusRecord{}, unavailable("search", err))
			return
		}
		s.mu.RLock()
		records := s.docs.snapshot(collection)
		s.mu.RUnlock()
		yieldAll(records)(yield)
	}
}

// Close is a no-op; every Upsert is already on disk.
func (s *FileStore) Close() error { return nil }

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.docs = make(documents)
			return nil
		}
		return fmt.Errorf("read records: %w", err)
	}

	if len(data) == 0 {
		s.docs = make(documents)
		return nil
	}

	docs := make(documents)
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse records: %w", err)
	}
	s.docs = docs
	return nil
}

func (s *FileStore) persist() error {
	bytes, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp records: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace records file: %w", err)
	}
	return nil
}
