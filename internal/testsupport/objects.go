package testsupport

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"

	"assemblyline/internal/services"
	"assemblyline/internal/storage"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// ObjectStore is an in-memory storage.ObjectStore.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]memObject

	// StatErr and DownloadErr, when set, are returned for matching keys.
	StatErr     map[string]error
	DownloadErr map[string]error
	DeleteErr   error

	Deleted []string
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore returns an empty in-memory store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects:     map[string]memObject{},
		StatErr:     map[string]error{},
		DownloadErr: map[string]error{},
	}
}

func objectID(bucket, key string) string { return bucket + "/" + key }

// Put stores an object with optional user metadata.
func (s *ObjectStore) Put(bucket, key string, data []byte, contentType string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectID(bucket, key)] = memObject{data: append([]byte(nil), data...), contentType: contentType, metadata: metadata}
}

// Get returns an object's bytes.
func (s *ObjectStore) Get(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectID(bucket, key)]
	return obj.data, ok
}

// Keys lists stored object ids ("bucket/key") in sorted order.
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *ObjectStore) lookup(bucket, key string) (memObject, error) {
	obj, ok := s.objects[objectID(bucket, key)]
	if !ok {
		return memObject{}, services.Wrap(services.ErrNotFound, "storage", "lookup", objectID(bucket, key), nil)
	}
	return obj, nil
}

func (s *ObjectStore) Stat(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.StatErr[key]; err != nil {
		return storage.ObjectInfo{}, err
	}
	obj, err := s.lookup(bucket, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	sum := md5.Sum(obj.data)
	return storage.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        int64(len(obj.data)),
		ETag:        hex.EncodeToString(sum[:]),
		ContentType: obj.contentType,
		Metadata:    obj.metadata,
	}, nil
}

func (s *ObjectStore) Download(_ context.Context, bucket, key, dst string) (int64, error) {
	s.mu.Lock()
	if err := s.DownloadErr[key]; err != nil {
		s.mu.Unlock()
		return 0, err
	}
	obj, err := s.lookup(bucket, key)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(dst, obj.data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return int64(len(obj.data)), nil
}

func (s *ObjectStore) Upload(_ context.Context, bucket, key, src, contentType string) (storage.ObjectInfo, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("read %s: %w", src, err)
	}
	s.Put(bucket, key, data, contentType, nil)
	return storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *ObjectStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, objectID(bucket, key))
	s.Deleted = append(s.Deleted, objectID(bucket, key))
	return nil
}

func (s *ObjectStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectID(bucket, key)]
	return ok, nil
}

func (s *ObjectStore) Ping(context.Context, string) error { return nil }
