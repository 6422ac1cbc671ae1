package storage

import (
	"context"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"assemblyline/internal/config"
	"assemblyline/internal/services"
)

// Minio is an S3-compatible ObjectStore.
type Minio struct {
	client *minio.Client
}

// NewMinio connects to an S3-compatible endpoint.
func NewMinio(cfg config.Storage) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "minio client", cfg.Endpoint, err)
	}
	return &Minio{client: client}, nil
}

func (m *Minio) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, minioError("stat", bucket, key, err)
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
		Metadata:    info.UserMetadata,
	}, nil
}

func (m *Minio) Download(ctx context.Context, bucket, key, dst string) (int64, error) {
	if err := m.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		return 0, minioError("download", bucket, key, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "storage", "download", dst, err)
	}
	return info.Size(), nil
}

func (m *Minio) Upload(ctx context.Context, bucket, key, src, contentType string) (ObjectInfo, error) {
	info, err := m.client.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, minioError("upload", bucket, key, err)
	}
	return ObjectInfo{Bucket: bucket, Key: key, Size: info.Size, ETag: info.ETag, ContentType: contentType}, nil
}

func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return minioError("delete", bucket, key, err)
	}
	return nil
}

func (m *Minio) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, minioError("exists", bucket, key, err)
}

func (m *Minio) Ping(ctx context.Context, bucket string) error {
	ok, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return services.Wrap(services.ErrTransient, "storage", "ping", bucket, err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "storage", "ping", "bucket "+bucket+" does not exist", nil)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func minioError(op, bucket, key string, err error) error {
	marker := services.ErrTransient
	if isMinioNotFound(err) {
		marker = services.ErrNotFound
	}
	return services.Wrap(marker, "storage", op, bucket+"/"+key, err)
}
