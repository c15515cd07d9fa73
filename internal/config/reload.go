package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher holds the current configuration and reloads it when the file
// changes or Reload is called. A config that fails validation is rejected
// and the previous one stays current.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	path    string
	logger  zerolog.Logger

	debounce time.Duration

	listenersMu sync.Mutex
	listeners   []chan<- *Config
}

// NewWatcher creates a watcher seeded with an already loaded config
func NewWatcher(path string, initial *Config, logger zerolog.Logger) *Watcher {
	return &Watcher{
		current:  initial,
		path:     path,
		logger:   logger.With().Str("component", "config").Logger(),
		debounce: 500 * time.Millisecond,
	}
}

// Current returns the active configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a channel that receives every successfully reloaded
// config. Sends never block; a full channel misses the update.
func (w *Watcher) Subscribe(ch chan<- *Config) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, ch)
}

// Reload reads the file again and swaps it in when valid
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("Configuration reload failed")
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.listenersMu.Lock()
	for _, ch := range w.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
	w.listenersMu.Unlock()

	w.logger.Info().Str("path", w.path).Msg("Configuration reloaded")
	return nil
}

// Run watches the config file until ctx is done. An empty path disables
// watching and Run simply waits.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		// A missing file is not fatal; env and defaults still apply
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Config file not watched")
		<-ctx.Done()
		return nil
	}

	w.logger.Info().Str("path", w.path).Msg("Watching config file for changes")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Editors often write several times in a row
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				_ = w.Reload()
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}
