package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads credentials whenever the zuliprc changes until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if m.loader == nil || m.loader.Path() == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.loader.Path()); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					// editors replace the file; watch the new inode
					if err := w.Add(ev.Name); err != nil {
						slog.Error("credentials: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				if _, err := m.Reload(); err != nil {
					slog.Error("credentials: reload failed", "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("credentials: watch error", "err", err)
			}
		}
	}()
	return nil
}
