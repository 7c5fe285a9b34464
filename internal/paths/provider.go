// Package paths resolves logical video file references to filesystem paths
// usable by local tooling, independent of where the authoritative copy lives.
package paths

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StorageProvider abstracts the bucket that holds video payloads. Object keys
// use forward slashes regardless of platform.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, objectKey string, r io.Reader) (int64, error)
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// LocalFS implements StorageProvider using the local filesystem.
// It stores objects under a configured root directory.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) PutObject(_ context.Context, objectKey string, r io.Reader) (int64, error) {
	if objectKey == "" {
		return 0, fmt.Errorf("object key is required")
	}

	dst := filepath.Join(l.root, filepath.FromSlash(objectKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	outF, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer outF.Close()

	return io.Copy(outF, r)
}

func (l *LocalFS) GetObject(_ context.Context, objectKey string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(l.root, filepath.FromSlash(objectKey)))
}

func (l *LocalFS) DeleteObject(_ context.Context, objectKey string) error {
	return os.Remove(filepath.Join(l.root, filepath.FromSlash(objectKey)))
}
