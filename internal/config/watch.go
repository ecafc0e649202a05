package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchWatchlist monitors the watchlist file and calls onChange with the
// newly loaded list each time it is written. It runs until ctx is cancelled.
//
// If a reload fails (e.g. invalid YAML), the error is logged and the
// previous watchlist stays active.
func WatchWatchlist(ctx context.Context, path string, onChange func(Watchlist)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("watching watchlist for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so catch Create as well as Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w, err := LoadWatchlist(path)
			if err != nil {
				slog.Error("watchlist reload failed, keeping previous", "path", path, "error", err)
				continue
			}

			slog.Info("watchlist reloaded", "path", path,
				"tokens", len(w.Tokens), "protocols", len(w.Protocols))
			onChange(w)

			// An atomic save may have replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watchlist watcher error", "error", err)
		}
	}
}
