package classifier

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the rule pack at path whenever it changes on disk, until ctx
// is done. The parent directory is watched so that editors which replace the
// file by rename are picked up. A pack that fails to load or validate is
// logged and the active rules are kept.
func (c *Classifier) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				loaded, err := LoadRules(abs)
				if err == nil {
					err = c.Reload(loaded)
				}
				if err != nil {
					logger.Warn("rules reload failed", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("rules reloaded", zap.String("path", abs), zap.String("rules_hash", loaded.Hash))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
