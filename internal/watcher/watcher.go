// Package watcher reports documents dropped into the inbox folder.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipetrace/agent/internal/logging"
)

// DefaultSettle is how long a file must go without writes before it is
// reported. Copies into the folder arrive as a burst of write events.
const DefaultSettle = 500 * time.Millisecond

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	default:
		return "delete"
	}
}

// FSWatcher watches a single directory (not recursively) with fsnotify and
// reports each file once its writes have settled. Hidden files are ignored,
// which also skips the temporary files of in-progress uploads.
type FSWatcher struct {
	logger *slog.Logger
	settle time.Duration

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*time.Timer
	seen     map[string]bool
	fsw      *fsnotify.Watcher
	stopped  bool
}

func NewFSWatcher(logger *slog.Logger, settle time.Duration) *FSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &FSWatcher{
		logger:  logging.WithComponent(logger, "watcher"),
		settle:  settle,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch creates dir if needed and blocks, dispatching settled files to the
// OnChange callback, until ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", logging.SanitizePath(dir), err)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		fsw.Close()
		return nil
	}
	w.fsw = fsw
	w.mu.Unlock()

	w.logger.Info("watching inbox", "path", logging.SanitizePath(dir))
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[event.Name]; ok {
			t.Stop()
			delete(w.pending, event.Name)
		}
		wasSeen := w.seen[event.Name]
		delete(w.seen, event.Name)
		cb := w.callback
		w.mu.Unlock()
		if wasSeen && cb != nil {
			cb(event.Name, EventDelete)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *FSWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *FSWatcher) fire(path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	ev := EventCreate
	if w.seen[path] {
		ev = EventModify
	}
	w.seen[path] = true
	cb := w.callback
	w.mu.Unlock()

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}
	w.logger.Debug("file settled", "path", logging.SanitizePath(path), "event", ev.String())
	if cb != nil {
		cb(path, ev)
	}
}

// Stop releases the watcher and cancels pending notifications. Safe to call
// more than once.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~")
}
