package storage

import (
	"context"
	"fmt"

	"assemblyline/internal/config"
)

// ObjectInfo describes an object and its user metadata.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the subset of object storage the pipeline needs.
type ObjectStore interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Download(ctx context.Context, bucket, key, dst string) (int64, error)
	Upload(ctx context.Context, bucket, key, src, contentType string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Ping(ctx context.Context, bucket string) error
}

// Open builds the backend selected by storage.backend.
func Open(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "minio":
		return NewMinio(cfg.Storage)
	case "gcs":
		return NewGCS(ctx, cfg.Storage)
	default:
		return nil, fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
}
