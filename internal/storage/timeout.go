package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"statusmon/internal/models"
)

// TimeoutStore bounds every call on the wrapped store with a deadline.
type TimeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps s so that no call blocks longer than d. A call that hits
// the deadline fails with ErrUnavailable. d <= 0 returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &TimeoutStore{next: s, timeout: d}
}

func (t *TimeoutStore) classify(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRecord) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s", ErrUnavailable, t.timeout)
	}
	return unavailable("store", err)
}

// Upsert forwards to the wrapped store under a deadline.
func (t *TimeoutStore) Upsert(ctx context.Context, collection, key string, rec models.StatusRecord) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.classify(ctx, t.next.Upsert(ctx, collection, key, rec))
}

// Get forwards to the wrapped store under a deadline.
func (t *TimeoutStore) Get(ctx context.Context, collection, key string) (models.StatusRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rec, err := t.next.Get(ctx, collection, key)
	return rec, t.classify(ctx, err)
}

// SearchAll bounds one full range over the sequence by the deadline.
func (t *TimeoutStore) SearchAll(ctx context.Context, collection string) iter.Seq2[models.StatusRecord, error] {
	return func(yield func(models.StatusRecord, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		for rec, err := range t.next.SearchAll(ctx, collection) {
			if err != nil {
				yield(models.StatusRecord{}, t.classify(ctx, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close closes the wrapped store.
func (t *TimeoutStore) Close() error {
	return t.next.Close()
}
