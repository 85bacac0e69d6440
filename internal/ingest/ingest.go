package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"statusmon/internal/models"
	"statusmon/internal/storage"
)

// Ingestor validates payloads and upserts them into one collection.
type Ingestor struct {
	store      storage.Store
	collection string
	mode       models.KeyMode
	now        func() time.Time
}

// NewIngestor wires an Ingestor to an explicitly constructed store.
func NewIngestor(store storage.Store, collection string, mode models.KeyMode) *Ingestor {
	return &Ingestor{
		store:      store,
		collection: collection,
		mode:       mode,
		now:        time.Now,
	}
}

// Result describes a stored record.
type Result struct {
	Key    string              `json:"key"`
	Record models.StatusRecord `json:"record"`
}

// Ingest validates p and upserts it keyed by the configured key mode. A
// malformed payload never reaches the store. Store failures wrap
// storage.ErrUnavailable.
func (in *Ingestor) Ingest(ctx context.Context, p Payload) (Result, error) {
	rec, err := p.Record()
	if err != nil {
		return Result{}, err
	}
	if in.mode == models.KeyByServiceHost && strings.Contains(rec.ServiceName, models.KeySeparator) {
		return Result{}, &MalformedInputError{
			Field:  "service_name",
			Reason: fmt.Sprintf("must not contain %q when records are keyed by host", models.KeySeparator),
		}
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = in.now().UTC()
	}

	key := in.mode.RecordKey(rec)
	if err := in.store.Upsert(ctx, in.collection, key, rec); err != nil {
		if errors.Is(err, storage.ErrInvalidRecord) {
			return Result{}, &MalformedInputError{Reason: err.Error()}
		}
		return Result{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return Result{Key: key, Record: rec}, nil
}

// BatchResult tallies the outcome of a multi-record ingestion.
type BatchResult struct {
	Accepted  int      `json:"accepted"`
	Malformed int      `json:"malformed"`
	Keys      []string `json:"keys,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// IngestBatch ingests payloads in order. Malformed payloads are counted and
// skipped; the first store failure aborts the batch and is returned.
func (in *Ingestor) IngestBatch(ctx context.Context, payloads []Payload) (BatchResult, error) {
	var res BatchResult
	for _, p := range payloads {
		r, err := in.Ingest(ctx, p)
		switch {
		case err == nil:
			res.Accepted++
			res.Keys = append(res.Keys, r.Key)
		case errors.Is(err, ErrMalformedInput):
			res.Malformed++
			res.Errors = append(res.Errors, err.Error())
		default:
			return res, err
		}
	}
	return res, nil
}
