package refdata

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the file whenever it changes, until ctx is done. The parent
// directory is watched so that atomic rename-over saves are seen. Invalid
// edits are logged and the previous data stays in effect.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("refdata: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	target, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("refdata: resolve %s: %w", s.path, err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("refdata: watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.Debug("refdata: watching", "path", target)

	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("refdata: reload failed, keeping previous data", "path", target, "error", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("refdata: watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
