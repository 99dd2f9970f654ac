package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounceDelay = 500 * time.Millisecond

// Watch reloads path whenever it changes and hands the new configuration to
// onReload. It blocks until ctx is done. A file that fails to load is logged
// and the previous configuration stays in effect.
func Watch(ctx context.Context, path string, logger *zap.Logger, debounce time.Duration, onReload func(Config)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("config watcher init failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// editors replace the file, so watch the directory
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logger.Error("config watcher add failed", zap.String("path", dir), zap.Error(err))
		return
	}

	delay := debounce
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	logger.Info("config watcher started", zap.String("path", path), zap.Duration("debounce", delay))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, func() {
				cfg, err := LoadFile(path)
				if err != nil {
					logger.Error("config reload failed, keeping previous", zap.String("path", path), zap.Error(err))
					return
				}
				onReload(cfg)
				logger.Info("config reloaded", zap.String("path", path))
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
