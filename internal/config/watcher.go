package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// Watcher reloads the config file when it changes on disk. A reload that
// fails to parse or validate is discarded and the previous config stays
// active.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Config
	onSwap  func(*Config)
	log     *zap.Logger
}

// NewWatcher wraps an already loaded config. onSwap, if non-nil, runs after
// every successful reload with the new config.
func NewWatcher(path string, initial *Config, onSwap func(*Config), log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: path, current: initial, onSwap: onSwap, log: log}
}

// Current returns the active config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches the file until ctx is done. Editors replace files with
// rename+create, so both Write and Create events trigger a reload, debounced.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected, keeping previous",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.String("path", w.path))
	if w.onSwap != nil {
		w.onSwap(next)
	}
}
