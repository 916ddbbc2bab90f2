package vitals

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchThresholds reloads path into set whenever the file changes, until ctx
// is cancelled. The parent directory is watched so editor rename-on-save is
// picked up. An invalid file keeps the previous table active.
func WatchThresholds(ctx context.Context, path string, set *Thresholds, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create threshold watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				reloadThresholds(target, set, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Threshold watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

func reloadThresholds(path string, set *Thresholds, logger *zap.Logger) {
	table, err := LoadTable(path)
	if err != nil {
		logger.Warn("Ignoring invalid threshold file", zap.String("path", path), zap.Error(err))
		return
	}
	if err := set.Set(table); err != nil {
		logger.Warn("Ignoring invalid threshold table", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("Thresholds reloaded", zap.String("path", path))
}
