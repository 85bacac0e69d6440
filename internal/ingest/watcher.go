package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RejectedDir is the spool subdirectory that receives malformed files.
const RejectedDir = "rejected"

// Watcher polls a spool directory and ingests status files dropped there by
// producers that could not push directly.
type Watcher struct {
	dir      string
	interval time.Duration
	ingestor *Ingestor
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, interval time.Duration, ingestor *Ingestor, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		interval: interval,
		ingestor: ingestor,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the polling loop in a goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop requests graceful loop termination and waits until it is done.
func (w *Watcher) Stop() {
	select {
	case <-w.doneCh:
		return
	default:
	}
	close(w.stopCh)
	<-w.doneCh
}

// ScanResult tallies one pass over the spool directory.
type ScanResult struct {
	Ingested int
	Rejected int
	Pending  int
}

// ScanOnce ingests every status file currently in the directory. Ingested
// files are removed and malformed ones are moved to RejectedDir. On a store
// failure the scan stops and the remaining files stay for the next pass.
func (w *Watcher) ScanOnce(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	paths, err := statusFiles(w.dir)
	if err != nil {
		return res, err
	}

	for i, path := range paths {
		out, err := w.ingestor.IngestFile(ctx, path)
		switch {
		case err == nil:
			res.Ingested++
			if rmErr := os.Remove(path); rmErr != nil {
				w.logger.Warn("remove ingested status file", "path", path, "err", rmErr)
			}
			w.logger.Debug("ingested status file", "path", path, "key", out.Key)
		case errors.Is(err, ErrMalformedInput):
			res.Rejected++
			w.logger.Warn("rejected status file", "path", path, "err", err)
			if mvErr := w.reject(path); mvErr != nil {
				w.logger.Warn("move rejected status file", "path", path, "err", mvErr)
			}
		default:
			res.Pending = len(paths) - i
			return res, fmt.Errorf("ingest %s: %w", filepath.Base(path), err)
		}
	}
	return res, nil
}

func (w *Watcher) reject(path string) error {
	dest := filepath.Join(w.dir, RejectedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dest, filepath.Base(path)))
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	w.tick()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) tick() {
	res, err := w.ScanOnce(context.Background())
	if err != nil {
		w.logger.Error("spool scan failed", "dir", w.dir, "pending", res.Pending, "err", err)
		return
	}
	if res.Ingested > 0 || res.Rejected > 0 {
		w.logger.Info("spool scan", "dir", w.dir, "ingested", res.Ingested, "rejected", res.Rejected)
	}
}
