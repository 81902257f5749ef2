package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/joshuapare/heapkit/internal/logger"
)

// Watch reloads the file at path whenever it changes and passes every file
// that parses and validates to fn. The parent directory is watched so that
// editors replacing the file by rename are seen. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, log *slog.Logger, fn func(File)) error {
	log = logger.Or(log)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			f, err := Load(abs)
			if err == nil {
				err = f.Validate()
			}
			if err != nil {
				log.Warn("config reload rejected", "path", abs, "err", err)
				continue
			}
			log.Info("config reloaded", "path", abs)
			fn(f)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher", "err", err)
		}
	}
}
