package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from its file whenever the file changes,
// debouncing bursts of writes (editors often emit several events for a
// single save) into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	current  *Config
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	onChange func(*Config)
}

// NewWatcher loads path once and returns a Watcher holding the result.
// Call Start to begin watching for file changes.
func NewWatcher(path string, log *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      log.With("component", "config_watcher"),
		current:  cfg,
		onChange: onChange,
	}, nil
}

// Path returns the config file path this Watcher loads from and saves to.
func (w *Watcher) Path() string { return w.path }

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the config file for changes until ctx is
// canceled or Stop is called. A no-op if path is empty (nothing to
// watch) or Start was already called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		w.mu.Unlock()
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Stop stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.RLock()
	watcher := w.watcher
	w.mu.RUnlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous config", "error", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
