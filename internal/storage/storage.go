// Package storage defines a generic artifact storage backend behind one
// interface, adapted from pkg/storage/storage.go: local disk by default,
// S3/MinIO-compatible when configured. No other package in this module uses
// it: the ingestion pipeline writes video uploads, frames and reports
// directly under the local data root.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Backend is implemented by every storage adapter.
type Backend interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend     string // "local" or "s3"
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3PathStyle bool // required for MinIO
}

// New constructs a Backend from cfg.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalPath)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
