package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// defaultWatchDebounce collapses the burst of events one atomic file replace produces.
const defaultWatchDebounce = 200 * time.Millisecond

// sessionWatcher reloads the store when another process (for example a CLI
// login next to a running gateway) replaces the session file.
type sessionWatcher struct {
	path     string
	store    *tokenstore.Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

func newSessionWatcher(path string, store *tokenstore.Store) (*sessionWatcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// The file is replaced by rename, so the directory is what stays watchable
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &sessionWatcher{
		path:     filepath.Clean(path),
		store:    store,
		watcher:  fsw,
		debounce: defaultWatchDebounce,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *sessionWatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "session watcher error", "error", err)

		case <-timer.C:
			changed, err := w.store.Reload(ctx)
			if err != nil {
				slog.WarnContext(ctx, "failed to reload session", "error", err)
				continue
			}
			if changed {
				slog.InfoContext(ctx, "session file changed, reloaded", "path", w.path)
			}
		}
	}
}

// Close stops the watcher.
func (w *sessionWatcher) Close(context.Context) error {
	return w.watcher.Close()
}
