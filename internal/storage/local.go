package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Local implements Backend for the local filesystem, adapted directly from
// pkg/storage/local.go.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem backend rooted at basePath.
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create local root: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

func (l *Local) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	fullPath := filepath.Join(l.basePath, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("storage: create: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return file, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := os.RemoveAll(filepath.Join(l.basePath, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath := filepath.Join(l.basePath, prefix)
	var keys []string
	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(l.basePath, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return keys, nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.basePath, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: stat: %w", err)
}

func (l *Local) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	exists, err := l.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("storage: not found: %s", key)
	}
	return "file://" + filepath.Join(l.basePath, key), nil
}
