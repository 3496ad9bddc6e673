package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDelay = 500 * time.Millisecond

// Watch reloads the static file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up too. onReload, if set, runs after each successful
// reload.
func (r *Registry) Watch(ctx context.Context, onReload func()) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch sources: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch sources %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	debounce := fetch.NewDebouncer(reloadDelay)
	reload := func() {
		if err := r.Reload(); err != nil {
			r.log.Warn("sources reload failed", zap.String("path", r.path), zap.Error(err))
			return
		}
		if onReload != nil {
			onReload()
		}
	}

	go func() {
		defer watcher.Close()
		defer debounce.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					debounce.Trigger(reload)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("sources watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
