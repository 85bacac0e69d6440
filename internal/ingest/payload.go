// Package ingest validates incoming status reports and writes them to the
// document store. Reports arrive as HTTP bodies, spool files dropped by
// producers, or Prometheus remote-write series.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"statusmon/internal/models"
)

// ErrMalformedInput marks client-side payload errors.
var ErrMalformedInput = errors.New("malformed input")

// MalformedInputError names the payload field that was rejected.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Field == "" {
		return "malformed input: " + e.Reason
	}
	return fmt.Sprintf("malformed input: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedInput) hold for every MalformedInputError.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// Payload is a status report as submitted by a producer.
type Payload struct {
	ServiceName   string     `json:"service_name"`
	ServiceStatus string     `json:"service_status"`
	HostName      string     `json:"host_name"`
	ObservedAt    *time.Time `json:"observed_at,omitempty"`
}

// Decode parses exactly one JSON payload object from r.
func Decode(r io.Reader) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return Payload{}, err
		}
		return Payload{}, &MalformedInputError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Payload{}, &MalformedInputError{Reason: "trailing data after JSON object"}
	}
	return p, nil
}

// Record validates p and converts it to a StatusRecord. The status literal
// is matched case-insensitively and folded to its canonical form.
func (p Payload) Record() (models.StatusRecord, error) {
	name := strings.TrimSpace(p.ServiceName)
	if name == "" {
		return models.StatusRecord{}, &MalformedInputError{Field: "service_name", Reason: "is required"}
	}
	status, ok := models.ParseStatus(p.ServiceStatus)
	if !ok {
		return models.StatusRecord{}, &MalformedInputError{
			Field:  "service_status",
			Reason: fmt.Sprintf("must be UP or DOWN, got %q", p.ServiceStatus),
		}
	}
	rec := models.StatusRecord{
		ServiceName:   name,
		ServiceStatus: status,
		HostName:      strings.TrimSpace(p.HostName),
	}
	if p.ObservedAt != nil {
		rec.ObservedAt = p.ObservedAt.UTC()
	}
	return rec, nil
}
