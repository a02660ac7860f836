package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yaogent/ymux/internal/config"
)

const watchDebounce = 250 * time.Millisecond

// configWatcher reloads the config file when it changes and hands the new
// config to the daemon for reconciliation. The parent directory is watched
// because editors typically replace the file by rename.
type configWatcher struct {
	path    string
	logger  *slog.Logger
	apply   func(*config.Config)
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
}

func newConfigWatcher(path string, logger *slog.Logger, apply func(*config.Config)) (*configWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &configWatcher{
		path:    path,
		logger:  logger,
		apply:   apply,
		watcher: fw,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *configWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *configWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(watchDebounce, w.reload)
}

func (w *configWatcher) reload() {
	cfg, err := config.LoadFrom(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	if err := config.Validate(cfg); err != nil {
		w.logger.Warn("ignoring invalid config", "error", err)
		return
	}
	w.logger.Info("config changed, reconciling servers", "servers", len(cfg.Servers))
	w.apply(cfg)
}

func (w *configWatcher) stop() {
	w.watcher.Close()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
}
