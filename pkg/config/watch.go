package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// Watch reloads the config file at path whenever it is written or replaced
// and passes every valid result to onChange. Invalid files are logged and
// skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself, so editors and
// config-map mounts that swap the file by rename are picked up.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				logger.WithError(err).WithField("path", target).Warn("Ignoring invalid config change")
				continue
			}
			logger.WithField("path", target).Info("Config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}
