package storage

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"statusmon/internal/models"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs documents
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(documents)}
}

// Upsert stores rec under key.
func (s *MemoryStore) Upsert(ctx context.Context, collection, key string, rec models.StatusRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("upsert", err)
	}
	if err := checkUpsert(collection, key, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs.put(collection, key, rec)
	return nil
}

// Get returns the record stored under key.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (models.StatusRecord, error) {
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

// SearchAll yields a point-in-time copy of the collection on every range.
func (s *MemoryStore) SearchAll(ctx context.Context, collection string) iter.Seq2[models.StatusRecord, error] {
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

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
