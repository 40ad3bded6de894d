package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a reload of the watched config file. Err is set when the new
// content failed to parse or validate; Config is nil in that case.
type Change struct {
	Config *Config
	Err    error
}

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	Path    string
	Changes <-chan Change

	changes  chan Change
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher watches the file at path. The parent directory is watched so
// editors that replace the file on save are still seen.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	ch := make(chan Change, 4)
	return &Watcher{
		Path:     abs,
		Changes:  ch,
		changes:  ch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: 100 * time.Millisecond,
	}, nil
}

func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel. A change still waiting
// for buffer space is dropped. Calling Stop again is a no-op.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
		<-w.done
		close(w.changes)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.Path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.emit()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) emit() {
	cfg, err := FromFile(w.Path)
	select {
	case w.changes <- Change{Config: cfg, Err: err}:
	case <-w.stop:
	}
}
