package models

import (
	"strconv"
	"strings"
	"time"
)

// Status is the liveness state of a service.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
	// StatusUnknown is only produced by aggregation, never stored.
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus folds raw to a record status. Matching ignores case and surrounding space.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(StatusUp):
		return StatusUp, true
	case string(StatusDown):
		return StatusDown, true
	}
	return "", false
}

// Valid reports whether s may be stored on a record.
func (s Status) Valid() bool {
	return s == StatusUp || s == StatusDown
}

// StatusRecord is the most recent liveness observation of one service.
type StatusRecord struct {
	ServiceName   string    `json:"service_name"`
	ServiceStatus Status    `json:"service_status"`
	HostName      string    `json:"host_name"`
	ObservedAt    time.Time `json:"observed_at,omitzero"`
}

// Validate checks the record invariants shared by every store backend.
func (r StatusRecord) Validate() error {
	if strings.TrimSpace(r.ServiceName) == "" {
		return &FieldError{Field: "service_name", Reason: "must not be empty"}
	}
	if !r.ServiceStatus.Valid() {
		return &FieldError{Field: "service_status", Reason: "must be UP or DOWN, got " + strconv.Quote(string(r.ServiceStatus))}
	}
	return nil
}

// FieldError describes a record field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}
