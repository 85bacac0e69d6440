// Package producer probes the configured services on the local host and
// emits one status record per service on every run.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"statusmon/internal/models"
)

// Config selects what a Reporter probes and how often.
type Config struct {
	HostName     string
	Services     []string
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Reporter periodically probes services and hands the records to a sink.
type Reporter struct {
	cfg    Config
	probe  Probe
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a reporter for the configured services.
func New(cfg Config, probe Probe, sink Sink, logger *slog.Logger) (*Reporter, error) {
	if len(cfg.Services) == 0 {
		return nil, errors.New("at least one service must be configured")
	}
	if cfg.Interval < time.Second {
		cfg.Interval = time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		cfg:    cfg,
		probe:  probe,
		sink:   sink,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the reporting loop in a goroutine.
func (r *Reporter) Start() {
	go r.run()
}

// Stop requests graceful loop termination and waits until it is done.
func (r *Reporter) Stop() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
}

// RunOnce probes every service in order and emits its record. A probe that
// cannot run is logged and reported as DOWN; a sink failure is logged and the
// remaining services are still processed. The returned error joins the sink
// failures.
func (r *Reporter) RunOnce(ctx context.Context) ([]models.StatusRecord, error) {
	records := make([]models.StatusRecord, 0, len(r.cfg.Services))
	var errs []error

	for _, service := range r.cfg.Services {
		rec := models.StatusRecord{
			ServiceName:   service,
			ServiceStatus: r.check(ctx, service),
			HostName:      r.cfg.HostName,
			ObservedAt:    r.now().UTC(),
		}
		records = append(records, rec)

		if err := r.sink.Emit(ctx, rec); err != nil {
			r.logger.Error("emit status", "service", service, "err", err)
			errs = append(errs, fmt.Errorf("emit %s: %w", service, err))
			continue
		}
		r.logger.Info("status reported", "service", service, "status", rec.ServiceStatus)
	}
	return records, errors.Join(errs...)
}

func (r *Reporter) check(ctx context.Context, service string) (status models.Status) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("probe panicked", "service", service, "panic", p)
			status = models.StatusDown
		}
	}()

	status, err := r.probe.Probe(ctx, service)
	if err != nil {
		r.logger.Warn("probe failed, reporting DOWN", "service", service, "err", err)
		return models.StatusDown
	}
	if !status.Valid() {
		r.logger.Warn("probe returned unknown status, reporting DOWN", "service", service, "status", status)
		return models.StatusDown
	}
	return status
}

func (r *Reporter) run() {
	defer close(r.doneCh)

	if _, err := r.RunOnce(context.Background()); err != nil {
		r.logger.Error("initial report failed", "err", err)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error("report tick failed", "err", err)
			}
		case <-r.stopCh:
			return
		}
	}
}
