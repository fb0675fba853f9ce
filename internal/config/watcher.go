package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of file events from editors.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when files under the loader's base path
// change and hands the new Config to registered callbacks.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher seeded with the configuration already loaded
// by loader. Call Start to begin watching.
func NewWatcher(loader *Loader, initial *Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		loader:   loader,
		logger:   logger,
		debounce: DefaultDebounce,
		config:   initial,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetDebounce changes the quiet period before a reload. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start watches the configuration directory.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(w.loader.BasePath()); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.loader.BasePath(), err)
	}
	w.fsw = fsw

	go w.watchLoop()

	w.logger.Info("Configuration hot reloading enabled",
		zap.String("path", w.loader.BasePath()),
		zap.String("environment", string(w.loader.environment)),
	)
	return nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			w.logger.Debug("Config file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.Reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Reload loads the configuration again and, if it changed, notifies the
// callbacks. An invalid configuration is logged and the current one kept.
func (w *Watcher) Reload() {
	next, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Invalid configuration after reload, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.config
	if configsEqual(prev, next) {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged after reload")
		return
	}
	w.config = next
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded",
		zap.Strings("changes", describeChanges(prev, next)),
		zap.Int("callbacks", len(callbacks)),
	)

	for i, cb := range callbacks {
		w.notify(i, cb, next)
	}
}

func (w *Watcher) notify(idx int, cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Config callback panicked",
				zap.Int("callback_index", idx),
				zap.Any("panic", r),
			)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback run after each successful reload.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop ends watching. It is safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsw != nil {
			<-w.done
		}
	})
}

func configsEqual(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := *a, *b
	x.LoadedFrom, y.LoadedFrom = nil, nil
	return reflect.DeepEqual(x, y)
}

func describeChanges(prev, next *Config) []string {
	var changes []string
	if prev == nil {
		return changes
	}
	if prev.Cache.StaleTime != next.Cache.StaleTime {
		changes = append(changes, fmt.Sprintf("cache.staleTime: %s -> %s", prev.Cache.StaleTime, next.Cache.StaleTime))
	}
	if prev.Cache.RefetchOnInvalidate != next.Cache.RefetchOnInvalidate {
		changes = append(changes, fmt.Sprintf("cache.refetchOnInvalidate: %v -> %v", prev.Cache.RefetchOnInvalidate, next.Cache.RefetchOnInvalidate))
	}
	if prev.Logging.Level != next.Logging.Level {
		changes = append(changes, fmt.Sprintf("logging.level: %s -> %s", prev.Logging.Level, next.Logging.Level))
	}
	if prev.Server.Port != next.Server.Port {
		changes = append(changes, fmt.Sprintf("server.port: %d -> %d (restart required)", prev.Server.Port, next.Server.Port))
	}
	if prev.Remote.Provider != next.Remote.Provider {
		changes = append(changes, fmt.Sprintf("remote.provider: %s -> %s (restart required)", prev.Remote.Provider, next.Remote.Provider))
	}
	return changes
}

func isConfigFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
