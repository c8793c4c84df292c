package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces the burst of filesystem events editors emit for
// a single save.
const debounceDelay = 200 * time.Millisecond

// ReloadFunc receives the freshly validated configuration after the file
// changes. Only the dynamic sections (GC, RateLimit, Breaker) should be
// applied at runtime; everything else needs a restart.
type ReloadFunc func(cfg *Config)

// Watcher reloads the configuration file on change and notifies
// subscribers. Invalid files are logged and skipped, keeping the last
// good configuration active.
type Watcher struct {
	logger *zap.Logger
	path   string

	mu        sync.Mutex
	callbacks []ReloadFunc
	current   *Config
}

// NewWatcher creates a watcher for the config file at path. cfg is the
// currently loaded configuration.
func NewWatcher(logger *zap.Logger, path string, cfg *Config) *Watcher {
	return &Watcher{logger: logger, path: path, current: cfg}
}

// OnReload registers fn to run after each successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch blocks until ctx is cancelled, reloading on file changes. The
// parent directory is watched rather than the file itself so atomic
// rename-based saves keep working.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-reload:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
