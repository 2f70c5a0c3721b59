package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	gcsapi "google.golang.org/api/storage/v1"
)

type ObjectStore interface {
	Backend() string
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
	DeleteObject(ctx context.Context, objectPath string) error
}

var errEmptyObjectPath = errors.New("object path is required")

func cleanObjectPath(objectPath string) string {
	return strings.Trim(strings.TrimSpace(objectPath), "/")
}

// LocalStore writes objects below a directory on disk.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalStore{root: trimmed}, nil
}

func (s *LocalStore) Backend() string {
	return "local"
}

func (s *LocalStore) resolve(objectPath string) (string, error) {
	cleanPath := cleanObjectPath(objectPath)
	if cleanPath == "" {
		return "", errEmptyObjectPath
	}
	full := filepath.Join(s.root, filepath.FromSlash(cleanPath))
	if rel, err := filepath.Rel(s.root, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object path %q escapes archive directory", objectPath)
	}
	return full, nil
}

func (s *LocalStore) PutObject(_ context.Context, objectPath, _ string, data []byte) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write object %q: %w", objectPath, err)
	}
	return nil
}

func (s *LocalStore) DeleteObject(_ context.Context, objectPath string) error {
	full, err := s.resolve(objectPath)
	if errors.Is(err, errEmptyObjectPath) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %q: %w", objectPath, err)
	}
	return nil
}

type GCSStore struct {
	bucketName string
	service    *gcsapi.Service
}

func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &GCSStore{bucketName: trimmedBucket, service: service}, nil
}

func (s *GCSStore) Backend() string {
	return "gcs"
}

func (s *GCSStore) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath := cleanObjectPath(objectPath)
	if cleanPath == "" {
		return errEmptyObjectPath
	}

	trimmedType := strings.TrimSpace(contentType)
	if trimmedType == "" {
		trimmedType = "application/octet-stream"
	}

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: trimmedType,
	}

	if _, err := s.service.Objects.Insert(s.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

func (s *GCSStore) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath := cleanObjectPath(objectPath)
	if cleanPath == "" {
		return nil
	}

	err := s.service.Objects.Delete(s.bucketName, cleanPath).Context(ctx).Do()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}

	return fmt.Errorf("delete gcs object %q: %w", cleanPath, err)
}

// OpenStore builds the object store named by backend. "none" and "" return a
// nil store, which makes an Archiver a no-op.
func OpenStore(ctx context.Context, backend, dir, bucket string) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalStore(dir)
	case "gcs":
		return NewGCSStore(ctx, bucket)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}
