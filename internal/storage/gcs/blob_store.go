// Package gcs provides a BlobStore backed by Google Cloud Storage.
//
// Objects are written with a DoesNotExist precondition, so an existing key is
// never overwritten. Deletes leave a small tombstone object next to the key
// which later creates check before uploading.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const tombstoneSuffix = ".deleted"

// Object metadata keys.
const (
	MetaArtifactID  = "artifact-id"
	MetaSourceURL   = "source-url"
	MetaContentHash = "content-hash"
	MetaCreatedAt   = "created-at"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// Open creates a client with Application Default Credentials (plus opts) and
// checks that the bucket is reachable before returning a BlobStore.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg)
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// CreateObject uploads data under key unless the key exists or was deleted.
func (s *BlobStore) CreateObject(
	ctx context.Context,
	key string,
	contentType string,
	data []byte,
	meta artifact.Metadata,
) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("path is required")
	}
	bkt := s.client.Bucket(s.bucket)
	if _, err := bkt.Object(key + tombstoneSuffix).Attrs(ctx); err == nil {
		return fmt.Errorf("object %s was deleted: %w", key, artifact.ErrExists)
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("check tombstone %s: %w", key, err)
	}

	writer := bkt.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ChunkSize = 0
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = map[string]string{
		MetaArtifactID:  meta.ID,
		MetaSourceURL:   meta.SourceURL,
		MetaContentHash: meta.ContentHash,
		MetaCreatedAt:   meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("object %s: %w", key, artifact.ErrExists)
		}
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// GetObject downloads the object stored under key.
func (s *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return nil, fmt.Errorf("open reader: %w", err)
	}
	defer reader.Close() //nolint:errcheck // read-only
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// DeleteObject writes the tombstone and removes key.
func (s *BlobStore) DeleteObject(ctx context.Context, key string) error {
	bkt := s.client.Bucket(s.bucket)
	if _, err := bkt.Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return fmt.Errorf("stat object: %w", err)
	}

	tomb := bkt.Object(key + tombstoneSuffix).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	tomb.ChunkSize = 0
	tomb.ContentType = "text/plain"
	if err := tomb.Close(); err != nil && !isPreconditionFailed(err) {
		return fmt.Errorf("write tombstone: %w", err)
	}

	if err := bkt.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
