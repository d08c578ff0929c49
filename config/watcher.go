package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ChangeCallback is invoked after a successful reload with the previous and
// new configuration.
type ChangeCallback func(old, new *File)

// Watcher watches a configuration file and reloads it on change. The main
// use is adjusting the clock speed of a running simulation: the CLI
// registers a callback that forwards clock_speed changes to the scheduler.
type Watcher struct {
	path string

	mu      sync.RWMutex
	current *File

	callbacks   []ChangeCallback
	callbacksMu sync.Mutex

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher loads the file once and prepares a watcher for it. Call Start
// to begin receiving change events.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:      path,
		current:   cfg,
		fsWatcher: fsw,
		done:      make(chan struct{}),
	}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *File {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.callbacksMu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.callbacksMu.Unlock()
}

// Start begins watching. Editors replace files rather than rewriting them,
// so the parent directory is watched and events are filtered by name.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and releases the file system watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsWatcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// Debounce: editors emit bursts of WRITE/CREATE/RENAME per save.
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("config watcher error: %v", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logrus.Warnf("config reload failed, keeping previous config: %v", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	logrus.Infof("config reloaded from %s", w.path)

	w.callbacksMu.Lock()
	cbs := make([]ChangeCallback, len(w.callbacks))
	copy(cbs, w.callbacks)
	w.callbacksMu.Unlock()
	for _, cb := range cbs {
		cb(old, cfg)
	}
}
