package localstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is called with the key whose file was written or removed.
type ChangeFunc func(key string)

const debounce = 50 * time.Millisecond

// Watch reports key changes made by any process until ctx is cancelled.
// Bursts of events on one key are coalesced into a single callback.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, cb ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return err
	}
	logger.Debug("localstore: watching", slog.String("dir", s.dir))

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case <-timer.C:
			for key := range pending {
				cb(key)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := keyOf(ev.Name)
			if !ok {
				continue
			}
			pending[key] = struct{}{}
			timer.Reset(debounce)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("localstore: watch error", slog.String("error", watchErr.Error()))
		}
	}
}
