package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tradewatch/internal/logger"
)

// ConfigUpdateCallback is invoked with every successfully reloaded configuration
type ConfigUpdateCallback func(*Config) error

// ConfigWatcher watches the configuration file and reloads it on change.
// The parent directory is watched so editors that replace the file are seen.
type ConfigWatcher struct {
	configPath string
	env        *EnvManager
	debounce   time.Duration
	log        logger.Logger

	mu        sync.RWMutex
	callbacks []ConfigUpdateCallback
	running   bool
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, env *EnvManager, log logger.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: filepath.Clean(configPath),
		env:        env,
		debounce:   200 * time.Millisecond,
		log:        log,
	}
}

// OnChange adds a callback for configuration updates
func (w *ConfigWatcher) OnChange(callback ConfigUpdateCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching until ctx is cancelled or Stop is called
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.configPath)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, fw, w.done)

	w.log.Info("Configuration watcher started", "path", w.configPath)
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// 合并编辑器的连续写事件
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.reload(); err != nil {
				w.log.Error("Configuration reload failed", "path", w.configPath, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Configuration watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) reload() error {
	newConfig, err := LoadWithEnv(w.configPath, w.env)
	if err != nil {
		return err
	}

	w.mu.RLock()
	callbacks := make([]ConfigUpdateCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			w.log.Warn("Configuration update callback error", "error", err)
		}
	}

	w.log.Info("Configuration reloaded", "path", w.configPath)
	return nil
}

// Stop stops the configuration watcher
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	w.watcher.Close()
}

// IsRunning returns whether the watcher is currently running
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
