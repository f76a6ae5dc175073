// Package watcher optionally watches a directory for externally-dropped
// input files — the hand-off point for the out-of-scope URL-fetcher, which
// downloads a remote video and drops it under data_dir/incoming rather than
// going through the multipart-upload path. Grounded on
// ManuGH-xg2g/internal/proxy/watcher.go's fsnotify usage, generalized from a
// single-file wait into a standing directory watch.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler is invoked once per stabilized file dropped into the watched
// directory.
type Handler func(ctx context.Context, path string) error

// Watcher wraps an fsnotify watcher over a single directory, debouncing
// rapid Write events so a large file finishes copying before Handler runs.
type Watcher struct {
	dir      string
	log      *logrus.Logger
	handler  Handler
	settle   time.Duration
}

// New constructs a Watcher over dir. settle is how long a file must go
// without a Create or Write event before it is considered stable; 2s if zero.
func New(dir string, log *logrus.Logger, handler Handler, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watcher{dir: dir, log: log, handler: handler, settle: settle}
}

// Run watches until ctx is cancelled. A missing directory is not fatal: Run
// logs a warning and returns nil, since the watch is optional.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		w.log.WithError(err).WithField("dir", w.dir).Warn("incoming directory watch disabled")
		return nil
	}
	w.log.WithField("dir", w.dir).Info("watching for externally-dropped input files")

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	fire := make(chan string)
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-fire:
			delete(pending, path)
			if err := w.handler(ctx, path); err != nil {
				w.log.WithError(err).WithField("path", path).Error("incoming file handler failed")
			}
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, ".tmp") || strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Stop()
			}
			path := ev.Name
			pending[path] = time.AfterFunc(w.settle, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("fsnotify watcher error")
		}
	}
}
