// Package watcher turns raw fsnotify notifications into debounced path events
// for the dispatcher. Directories are watched recursively; new subdirectories
// are picked up as they appear. Editors tend to emit bursts of writes for one
// save, so events for the same path are coalesced within the debounce window.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/vigil/internal/log"
)

// Event is one debounced file change.
type Event struct {
	Path string
	At   time.Time
}

// Config holds watcher settings.
type Config struct {
	// Paths are the root directories (or single files) to observe.
	Paths []string
	// Ignore lists path substrings that suppress both watching and events.
	Ignore []string
	// Debounce is the quiet period before a changed path is emitted.
	Debounce time.Duration
}

// Watcher wraps fsnotify with recursion, ignore filtering, and debouncing.
type Watcher struct {
	fsw      *fsnotify.Watcher
	ignore   []string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	events chan Event
	done   chan struct{}
}

// New creates a watcher and begins observing the configured paths.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		ignore:   cfg.Ignore,
		debounce: cfg.Debounce,
		logger:   log.WithComponent("watcher"),
		pending:  make(map[string]*time.Timer),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}

	for _, root := range cfg.Paths {
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	go w.loop()
	return w, nil
}

// Events returns the debounced event stream. The channel is closed on Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and releases its file descriptors.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	close(w.events)
	return err
}

// addRecursive watches root and every non-ignored directory below it.
func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, sub := range w.ignore {
		if sub != "" && strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.ignored(ev.Name) {
		return
	}

	// New directories join the watch so files created inside them are seen.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.schedule(ev.Name)
}

// schedule (re)arms the debounce timer for a path. The last change within the
// window wins; the event fires once the path has been quiet for the full window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.emit(path)
	})
}

func (w *Watcher) emit(path string) {
	// The send stays under the mutex so Close cannot close the channel
	// between the closed check and the send.
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.pending, path)
	if w.closed {
		return
	}

	select {
	case w.events <- Event{Path: path, At: time.Now()}:
	default:
		w.logger.Warn("event channel full, dropping change", "path", path)
	}
}
