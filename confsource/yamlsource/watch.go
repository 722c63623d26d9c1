package yamlsource

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Run watches the document for changes and reloads it, blocking until ctx
// ends. Callers typically run it on its own goroutine alongside Watch
// subscribers.
//
// The parent directory is watched rather than the file itself so that atomic
// replace-by-rename writes (editors, mounted config volumes) are observed.
// Events are debounced; a failed reload keeps the previous snapshot and is
// retried on the next event.
func (s *Source) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.cfg.Path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	debounce := s.cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	target := filepath.Clean(s.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(debounce)
			armed = true
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("config watch error", slog.String("err", err.Error()))
		case <-timer.C:
			armed = false
			if err := s.Reload(); err != nil {
				s.log.Error("config reload failed; keeping previous snapshot",
					slog.String("path", s.cfg.Path),
					slog.String("err", err.Error()),
				)
				continue
			}
			s.log.Info("configuration reloaded", slog.String("path", s.cfg.Path))
		}
	}
}
