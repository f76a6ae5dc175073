package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWatcherMissingDirectoryIsNotFatal(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "does-not-exist"), silentLogger(), func(ctx context.Context, path string) error {
		return nil
	}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	require.NoError(t, err)
}

func TestWatcherFiresHandlerOnDroppedFile(t *testing.T) {
	dir := t.TempDir()
	seen := make(chan string, 1)
	w := New(dir, silentLogger(), func(ctx context.Context, path string) error {
		seen <- path
		return nil
	}, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond) // let fw.Add(dir) happen before the write
	target := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(target, []byte("video-bytes"), 0o644))

	select {
	case path := <-seen:
		require.Equal(t, target, path)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("handler was not called for a dropped file")
	}
}

func TestWatcherIgnoresTempAndDotFiles(t *testing.T) {
	dir := t.TempDir()
	seen := make(chan string, 1)
	w := New(dir, silentLogger(), func(ctx context.Context, path string) error {
		seen <- path
		return nil
	}, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.mp4.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	select {
	case path := <-seen:
		t.Fatalf("handler unexpectedly fired for %s", path)
	case <-time.After(300 * time.Millisecond):
		// expected: no handler call
	}
}
