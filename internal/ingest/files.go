package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"statusmon/internal/models"
)

const maxStatusFileBytes = 64 << 10

// IngestFile reads one spool status file and ingests it. When the payload
// carries no observed_at, the timestamp from the file name is used; file
// names carry the producing host's local time.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open status file: %w", err)
	}
	defer f.Close()

	p, err := Decode(io.LimitReader(f, maxStatusFileBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if p.ObservedAt == nil {
		if _, ts, ok := models.ParseStatusFileName(path, time.Local); ok {
			p.ObservedAt = &ts
		}
	}
	return in.Ingest(ctx, p)
}

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Path string
	Key  string
	Err  error
}

// ImportDir ingests every status file in dir once, oldest first, and
// returns a result per file. Files are left in place.
func (in *Ingestor) ImportDir(ctx context.Context, dir string) ([]FileResult, error) {
	paths, err := statusFiles(dir)
	if err != nil {
		return nil, err
	}
	results := make([]FileResult, 0, len(paths))
	for _, path := range paths {
		res, err := in.IngestFile(ctx, path)
		results = append(results, FileResult{Path: path, Key: res.Key, Err: err})
	}
	return results, nil
}

// statusFiles lists spool files in dir ordered by their embedded timestamp so
// the newest observation of a service is written last.
func statusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read spool directory: %w", err)
	}

	type spoolFile struct {
		path string
		ts   time.Time
	}
	var files []spoolFile
	for _, e := range entries {
		if e.IsDir() || !models.IsStatusFileName(e.Name()) {
			continue
		}
		_, ts, _ := models.ParseStatusFileName(e.Name(), time.Local)
		files = append(files, spoolFile{path: filepath.Join(dir, e.Name()), ts: ts})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ts.Equal(files[j].ts) {
			return files[i].ts.Before(files[j].ts)
		}
		return files[i].path < files[j].path
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
