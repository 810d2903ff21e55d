// Package local implements a filesystem blob store.
//
// Each object is a file under BaseDir named by its key, with a JSON sidecar
// holding its metadata. Deleting an object leaves a tombstone file behind so
// the key cannot be created again.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const (
	metaSuffix      = ".meta.json"
	tombstoneSuffix = ".deleted"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ObjectInfo is the sidecar written next to every object.
type ObjectInfo struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Metadata    artifact.Metadata `json:"metadata"`
	WrittenAt   time.Time         `json:"written_at"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// CreateObject writes data under key. The file becomes visible atomically
// and only if nothing, live or deleted, ever occupied the key.
func (s *BlobStore) CreateObject(
	_ context.Context,
	key string,
	contentType string,
	data []byte,
	meta artifact.Metadata,
) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(fullPath + tombstoneSuffix); err == nil {
		return fmt.Errorf("object %s was deleted: %w", key, artifact.ErrExists)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp) //nolint:errcheck // the link, if any, keeps the data

	// Link fails if the target exists, which rename would silently replace.
	if err := os.Link(tmp, fullPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("object %s: %w", key, artifact.ErrExists)
		}
		return fmt.Errorf("failed to publish file: %w", err)
	}

	if err := writeSidecar(dir, fullPath, ObjectInfo{
		Key:         key,
		ContentType: contentType,
		Metadata:    meta,
		WrittenAt:   time.Now().UTC(),
	}); err != nil {
		// The object is only created if both files land.
		if rmErr := os.Remove(fullPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return errors.Join(err, fmt.Errorf("failed to roll back file: %w", rmErr))
		}
		return err
	}
	return nil
}

func writeSidecar(dir, fullPath string, info ObjectInfo) error {
	sidecar, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	metaTmp, err := writeTemp(dir, sidecar)
	if err != nil {
		return err
	}
	if err := os.Rename(metaTmp, fullPath+metaSuffix); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// GetObject reads the file stored under key.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Info returns the sidecar recorded for key.
func (s *BlobStore) Info(_ context.Context, key string) (ObjectInfo, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	raw, err := os.ReadFile(fullPath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var info ObjectInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ObjectInfo{}, fmt.Errorf("decode metadata: %w", err)
	}
	return info, nil
}

// DeleteObject tombstones key and removes its file and sidecar.
func (s *BlobStore) DeleteObject(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if err := os.WriteFile(fullPath+tombstoneSuffix, nil, 0o600); err != nil {
		return fmt.Errorf("failed to write tombstone: %w", err)
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	if err := os.Remove(fullPath + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}
	return nil
}

// resolve maps key to a path inside baseDir.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return name, nil
}
