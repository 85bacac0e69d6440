// Package health answers overall and per-service health queries. Every query
// re-reads the store; nothing is cached between calls.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"statusmon/internal/models"
	"statusmon/internal/storage"
)

// ErrNotFound reports a service with no current record.
var ErrNotFound = errors.New("service not found")

// Counts summarises the records behind an overall report.
type Counts struct {
	Total int `json:"total"`
	Up    int `json:"up"`
	Down  int `json:"down"`
	Stale int `json:"stale"`
}

// Report is the overall application health.
type Report struct {
	Status      models.Status `json:"application_status"`
	Counts      Counts        `json:"counts"`
	GeneratedAt time.Time     `json:"generated_at"`
	// Err is set when the store could not be read; Status is then DOWN.
	Err error `json:"-"`
}

// ServiceReport is the health of a single service.
type ServiceReport struct {
	ServiceName string        `json:"service_name"`
	Status      models.Status `json:"service_status"`
	HostName    string        `json:"host_name,omitempty"`
	ObservedAt  time.Time     `json:"observed_at,omitzero"`
	Stale       bool          `json:"stale"`
	Hosts       []HostStatus  `json:"hosts,omitempty"`
}

// HostStatus is one host's contribution to a service rolled up across hosts.
type HostStatus struct {
	HostName   string        `json:"host_name"`
	Status     models.Status `json:"service_status"`
	ObservedAt time.Time     `json:"observed_at,omitzero"`
	Stale      bool          `json:"stale"`
}

// Aggregator computes health from the records in one collection.
type Aggregator struct {
	store      storage.Store
	collection string
	mode       models.KeyMode
	staleAfter time.Duration
	now        func() time.Time
}

// NewAggregator builds an aggregator. staleAfter <= 0 trusts records forever.
func NewAggregator(store storage.Store, collection string, mode models.KeyMode, staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		store:      store,
		collection: collection,
		mode:       mode,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (a *Aggregator) isStale(rec models.StatusRecord, now time.Time) bool {
	if a.staleAfter <= 0 || rec.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(rec.ObservedAt) > a.staleAfter
}

// effective returns the status a record contributes at time now.
func (a *Aggregator) effective(rec models.StatusRecord, now time.Time) (models.Status, bool) {
	if a.isStale(rec, now) {
		return models.StatusUnknown, true
	}
	return rec.ServiceStatus, false
}

// Overall reduces every current record with logical AND. A store failure
// yields DOWN with Err set, an empty store yields UNKNOWN, any fresh DOWN
// yields DOWN, and otherwise any stale record yields UNKNOWN.
func (a *Aggregator) Overall(ctx context.Context) Report {
	now := a.now().UTC()
	report := Report{GeneratedAt: now}

	for rec, err := range a.store.SearchAll(ctx, a.collection) {
		if err != nil {
			return Report{Status: models.StatusDown, GeneratedAt: now, Err: fmt.Errorf("search records: %w", err)}
		}
		status, _ := a.effective(rec, now)
		report.Counts.add(status)
	}
	report.Status = report.Counts.status()
	return report
}

func (c *Counts) add(status models.Status) {
	c.Total++
	switch status {
	case models.StatusUp:
		c.Up++
	case models.StatusDown:
		c.Down++
	default:
		c.Stale++
	}
}

func (c Counts) status() models.Status {
	switch {
	case c.Total == 0:
		return models.StatusUnknown
	case c.Down > 0:
		return models.StatusDown
	case c.Stale > 0:
		return models.StatusUnknown
	}
	return models.StatusUp
}

// Service reports the health of one service. host narrows the lookup when
// records are keyed by service and host; without it every host reporting
// the service is combined with the same rule as Overall.
func (a *Aggregator) Service(ctx context.Context, name, host string) (ServiceReport, error) {
	now := a.now().UTC()
	if a.mode == models.KeyByService || host != "" {
		rec, err := a.store.Get(ctx, a.collection, a.mode.Key(name, host))
		if errors.Is(err, storage.ErrNotFound) {
			return ServiceReport{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return ServiceReport{}, err
		}
		if host != "" && rec.HostName != host {
			return ServiceReport{}, fmt.Errorf("%w: %s on %s", ErrNotFound, name, host)
		}
		status, stale := a.effective(rec, now)
		return ServiceReport{
			ServiceName: name,
			Status:      status,
			HostName:    rec.HostName,
			ObservedAt:  rec.ObservedAt,
			Stale:       stale,
		}, nil
	}

	report := ServiceReport{ServiceName: name}
	var counts Counts
	for rec, err := range a.store.SearchAll(ctx, a.collection) {
		if err != nil {
			return ServiceReport{}, err
		}
		if rec.ServiceName != name {
			continue
		}
		status, stale := a.effective(rec, now)
		counts.add(status)
		report.Hosts = append(report.Hosts, HostStatus{
			HostName:   rec.HostName,
			Status:     status,
			ObservedAt: rec.ObservedAt,
			Stale:      stale,
		})
		if rec.ObservedAt.After(report.ObservedAt) {
			report.ObservedAt = rec.ObservedAt
		}
	}
	if counts.Total == 0 {
		return ServiceReport{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	report.Status = counts.status()
	report.Stale = counts.Stale == counts.Total
	sort.Slice(report.Hosts, func(i, j int) bool { return report.Hosts[i].HostName < report.Hosts[j].HostName })
	return report, nil
}

// Records lists every current record with its effective status, ordered by
// service then host.
func (a *Aggregator) Records(ctx context.Context) ([]ServiceReport, error) {
	now := a.now().UTC()
	var out []ServiceReport
	for rec, err := range a.store.SearchAll(ctx, a.collection) {
		if err != nil {
			return nil, err
		}
		status, stale := a.effective(rec, now)
		out = append(out, ServiceReport{
			ServiceName: rec.ServiceName,
			Status:      status,
			HostName:    rec.HostName,
			ObservedAt:  rec.ObservedAt,
			Stale:       stale,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceName != out[j].ServiceName {
			return out[i].ServiceName < out[j].ServiceName
		}
		return out[i].HostName < out[j].HostName
	})
	return out, nil
}
