package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor produces on save.
const reloadDebounce = 300 * time.Millisecond

// Reloader keeps the active Config and replaces it when the file changes,
// either through fsnotify or SIGHUP (Unix only, see reload_unix.go).
//
// Callbacks receive every accepted config, but only log level and rate
// limits are meant to be applied live. The routing table is built once, so
// service and route edits are accepted and reported as needing a restart.
type Reloader struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReloader creates a Reloader for path seeded with initial. An empty
// path means the gateway runs on built-in defaults with nothing to watch.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	r := &Reloader{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	r.current.Store(initial)
	return r
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers fn to run after each successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Start watches the config file's directory, so that editors which save by
// renaming a temp file over the original are still noticed.
func (r *Reloader) Start() {
	if r.path == "" {
		r.logger.Info("no config file, hot reload disabled")
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create file watcher", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		r.logger.Error("failed to watch config directory", "path", r.path, "error", err)
		watcher.Close()
		return
	}
	r.watcher = watcher

	go r.watch(filepath.Clean(r.path))
	r.registerSignalHandler()

	r.logger.Info("watching config for changes", "path", r.path)
}

// Stop ends watching. It may be called more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload re-reads the file. An invalid file leaves the current config in
// place and returns false.
func (r *Reloader) Reload() bool {
	next, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current config", "path", r.path, "error", err)
		return false
	}
	for _, w := range next.Warnings {
		r.logger.Warn("config warning", "message", w)
	}

	prev := r.current.Swap(next)
	r.logChanges(prev, next)

	r.mu.Lock()
	callbacks := slices.Clone(r.callbacks)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(next)
	}

	r.logger.Info("configuration reloaded", "path", r.path)
	return true
}

func (r *Reloader) watch(target string) {
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		case <-timer.C:
			r.Reload()
		}
	}
}

// logChanges reports what a reload changed and which edits need a restart.
func (r *Reloader) logChanges(prev, next *Config) {
	if prev.Logging.Level != next.Logging.Level {
		r.logger.Info("log level changed", "old", prev.Logging.Level, "new", next.Logging.Level)
	}
	if prev.RateLimit != next.RateLimit {
		r.logger.Info("rate limit config changed",
			"enabled", next.RateLimit.Enabled,
			"requests_per_second", next.RateLimit.RequestsPerSecond,
			"burst_size", next.RateLimit.BurstSize,
		)
	}
	if !reflect.DeepEqual(prev.Services, next.Services) {
		r.logger.Warn("service or route configuration changed; restart the gateway to apply it",
			"old_services", len(prev.Services),
			"new_services", len(next.Services),
		)
	}
	if prev.Forward != next.Forward || prev.Server.Port != next.Server.Port || prev.Admin.Enabled != next.Admin.Enabled {
		r.logger.Warn("server, forward or admin settings changed; restart the gateway to apply them")
	}
}
