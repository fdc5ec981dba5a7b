package faq

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

type WatcherConfig struct {
	Path     string
	Holder   *Holder
	Debounce time.Duration
	Logger   *slog.Logger
	// OnReload, if set, is called after every reload attempt.
	OnReload func(idx *Index, err error)
}

// Watcher republishes the index whenever the dataset file changes. A file
// that fails to load or validate leaves the active index in place.
type Watcher struct {
	path     string
	holder   *Holder
	debounce time.Duration
	logger   *slog.Logger
	onReload func(*Index, error)
	watcher  *fsnotify.Watcher
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" || cfg.Holder == nil {
		return nil, fmt.Errorf("faq watcher: path and holder are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("faq watcher: %w", err)
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		holder:   cfg.Holder,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onReload: cfg.OnReload,
		watcher:  fw,
	}, nil
}

// Run watches until ctx is cancelled. The parent directory is watched
// because editors often replace files instead of writing them in place.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("faq watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching FAQ dataset", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("FAQ watcher error", "err", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	items, err := LoadFile(w.path)
	var idx *Index
	if err == nil {
		idx, err = w.holder.Rebuild(items)
	}
	if err != nil {
		w.logger.Warn("FAQ dataset reload failed", "path", w.path, "err", err)
	}
	if w.onReload != nil {
		w.onReload(idx, err)
	}
}
