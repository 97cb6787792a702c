package bridge

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// ConfigWatcher calls onChange when a single file is written, created or
// replaced. The parent directory is watched so atomic renames are seen.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu           sync.Mutex
	pendingTimer *time.Timer
}

// NewConfigWatcher starts watching path. debounce <= 0 means 250ms.
func NewConfigWatcher(path string, debounce time.Duration, onChange func()) (*ConfigWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	path = filepath.Clean(path)
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &ConfigWatcher{
		watcher:  fsWatcher,
		path:     path,
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	L_debug("bridge: watching config", "path", path)
	return w, nil
}

func (w *ConfigWatcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			L_trace("bridge: config file event", "op", event.Op.String())
			w.trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("bridge: config watcher error", "error", err)
		}
	}
}

// trigger coalesces bursts of events (temp write + rename) into one call.
func (w *ConfigWatcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pendingTimer = nil
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Stop ends the watch. Pending callbacks are cancelled.
func (w *ConfigWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
		w.pendingTimer = nil
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// WatchConfig reloads the bridge config whenever path changes on disk.
func (b *Bridge) WatchConfig(path string) (*ConfigWatcher, error) {
	return NewConfigWatcher(path, 0, b.configChanged)
}
