package storage

import (
	"context"
	"fmt"

	"statusmon/internal/config"
)

// Open builds the configured backend wrapped with the configured call timeout.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Backend {
	case config.BackendFile:
		backend, err = NewFileStore(cfg.Path)
	case config.BackendSQLite:
		backend, err = NewSQLiteStore(SQLiteConfig{Path: cfg.Path})
	case config.BackendMemory:
		backend = NewMemoryStore()
	case config.BackendS3:
		backend, err = NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.Endpoint(),
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	return WithTimeout(backend, cfg.Timeout()), nil
}
