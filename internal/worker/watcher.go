package worker

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// WatchBinary watches the directory holding the resolved worker binary
// and restarts the worker when the binary is replaced, so a dev-tree
// rebuild takes effect without restarting the daemon. It blocks until
// the context is cancelled.
func (s *Supervisor) WatchBinary(ctx context.Context) error {
	s.mu.Lock()
	path := s.binary
	s.mu.Unlock()
	if path == "" {
		return errors.New("no worker binary resolved yet")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: rebuilds typically replace the
	// binary via rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	s.logger.Info("watching worker binary for changes", "path", path)

	base := filepath.Base(path)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("worker binary changed", "file", event.Name, "op", event.Op)

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watcherDebounce, func() {
				s.logger.Info("worker binary replaced, restarting")
				if _, err := s.Restart(); err != nil {
					s.logger.Error("restart after binary change failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("binary watcher error", "error", err)
		}
	}
}
