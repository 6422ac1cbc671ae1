package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"assemblyline/internal/config"
	"assemblyline/internal/services"
)

// GCS is an ObjectStore backed by Google Cloud Storage.
type GCS struct {
	client *gcs.Client
}

// NewGCS creates a client using the configured credentials file, or the
// ambient application default credentials when none is set.
func NewGCS(ctx context.Context, cfg config.Storage) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "gcs client", "", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, gcsError("stat", bucket, key, err)
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        attrs.Size,
		ETag:        attrs.Etag,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
	}, nil
}

func (g *GCS) Download(ctx context.Context, bucket, key, dst string) (int64, error) {
	reader, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return 0, gcsError("download", bucket, key, err)
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(out, reader)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "storage", "download", bucket+"/"+key, err)
	}
	return n, nil
}

func (g *GCS) Upload(ctx context.Context, bucket, key, src, contentType string) (ObjectInfo, error) {
	in, err := os.Open(src)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	writer := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, in); err != nil {
		_ = writer.Close()
		return ObjectInfo{}, gcsError("upload", bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return ObjectInfo{}, gcsError("upload", bucket, key, err)
	}
	attrs := writer.Attrs()
	return ObjectInfo{Bucket: bucket, Key: key, Size: attrs.Size, ETag: attrs.Etag, ContentType: attrs.ContentType}, nil
}

func (g *GCS) Delete(ctx context.Context, bucket, key string) error {
	if err := g.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return gcsError("delete", bucket, key, err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gcs.ErrObjectNotExist):
		return false, nil
	default:
		return false, gcsError("exists", bucket, key, err)
	}
}

func (g *GCS) Ping(ctx context.Context, bucket string) error {
	if _, err := g.client.Bucket(bucket).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return services.Wrap(services.ErrConfiguration, "storage", "ping", "bucket "+bucket+" does not exist", nil)
		}
		return services.Wrap(services.ErrTransient, "storage", "ping", bucket, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func gcsError(op, bucket, key string, err error) error {
	marker := services.ErrTransient
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		marker = services.ErrNotFound
	}
	return services.Wrap(marker, "storage", op, bucket+"/"+key, err)
}
