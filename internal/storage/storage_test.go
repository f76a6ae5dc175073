package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToLocalBackend(t *testing.T) {
	backend, err := New(context.Background(), Config{Backend: "", LocalPath: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &Local{}, backend)
}

func TestNewExplicitLocalBackend(t *testing.T) {
	backend, err := New(context.Background(), Config{Backend: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &Local{}, backend)
}

func TestNewS3Backend(t *testing.T) {
	backend, err := New(context.Background(), Config{
		Backend:     "s3",
		S3Bucket:    "videos",
		S3Endpoint:  "http://127.0.0.1:9000",
		S3AccessKey: "key",
		S3SecretKey: "secret",
		S3PathStyle: true,
	})
	require.NoError(t, err)
	require.IsType(t, &S3{}, backend)
}

func TestNewUnknownBackendErrors(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	require.Error(t, err)
}
