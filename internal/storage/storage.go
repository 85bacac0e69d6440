// Package storage provides the document store behind status ingestion and
// health aggregation. Every backend keeps at most one record per
// (collection, key) and the last Upsert wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"statusmon/internal/models"
)

var (
	// ErrUnavailable reports that the backing store could not be reached or
	// did not answer in time.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidRecord reports a record that failed schema validation.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound reports a key with no current record.
	ErrNotFound = errors.New("record not found")
)

// Store is a keyed document store for status records.
type Store interface {
	// Upsert inserts or overwrites the record stored under key.
	Upsert(ctx context.Context, collection, key string, rec models.StatusRecord) error
	// Get returns the record stored under key or ErrNotFound.
	Get(ctx context.Context, collection, key string) (models.StatusRecord, error)
	// SearchAll yields every current record in collection. Each range over
	// the sequence re-reads the store; a failure is yielded once and ends it.
	SearchAll(ctx context.Context, collection string) iter.Seq2[models.StatusRecord, error]
	Close() error
}

// Collect drains a SearchAll sequence into a slice.
func Collect(seq iter.Seq2[models.StatusRecord, error]) ([]models.StatusRecord, error) {
	var out []models.StatusRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func checkUpsert(collection, key string, rec models.StatusRecord) error {
	if collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidRecord)
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// unavailable wraps err as ErrUnavailable unless it is already classified.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRecord) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// documents is the in-process representation shared by the memory and file
// backends.
type documents map[string]map[string]models.StatusRecord

func (d documents) put(collection, key string, rec models.StatusRecord) (prev models.StatusRecord, existed bool) {
	coll := d[collection]
	if coll == nil {
		coll = make(map[string]models.StatusRecord)
		d[collection] = coll
	}
	prev, existed = coll[key]
	coll[key] = rec
	return prev, existed
}

func (d documents) restore(collection, key string, prev models.StatusRecord, existed bool) {
	if existed {
		d[collection][key] = prev
		return
	}
	delete(d[collection], key)
}

func (d documents) get(collection, key string) (models.StatusRecord, bool) {
	rec, ok := d[collection][key]
	return rec, ok
}

// snapshot returns the records of collection ordered by key.
func (d documents) snapshot(collection string) []models.StatusRecord {
	coll := d[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.StatusRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, coll[k])
	}
	return out
}

func yieldAll(records []models.StatusRecord) iter.Seq2[models.StatusRecord, error] {
	return func(yield func(models.StatusRecord, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}
