// Package watcher provides file system watching for hot-reload of datasets.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
)

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives one settled batch of events. Batches are delivered one
// at a time.
type Handler func(ctx context.Context, events []Event) error

// Watcher watches dataset directories, including layer subdirectories, and
// reports changes once they have been quiet for the debounce period.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	filter    func(path string) bool
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]Operation
	last    time.Time
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
	Filter   func(path string) bool // Files to report; nil reports every file
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "create fsnotify watcher")
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Filter == nil {
		cfg.Filter = func(string) bool { return true }
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		filter:    cfg.Filter,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]Operation),
	}, nil
}

// Start starts watching the configured paths and their subdirectories.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
		}
	}

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// AddPath watches path and every directory below it.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsWatcher.Add(p)
	})
	if err != nil {
		return eris.Wrapf(err, "watch %s", absPath)
	}

	w.logger.Info("watching directory", "path", absPath)
	return nil
}

// RemovePath stops watching a single directory.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.fsWatcher.Remove(absPath)
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent records a relevant event. A new directory is watched and
// its existing files are reported, since it may have been moved in whole.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.AddPath(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			w.recordTree(event.Name)
			return
		}
	}

	if !w.filter(event.Name) {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())
	w.record(event.Name, fsnotifyOpToOperation(event.Op))
}

func (w *Watcher) recordTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.filter(p) {
			w.record(p, OpCreate)
		}
		return nil
	})
}

func (w *Watcher) record(path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.last = time.Now()
	existing, ok := w.pending[path]
	if !ok {
		w.pending[path] = op
		return
	}
	w.pending[path] = mergeOperation(existing, op)
}

// mergeOperation combines two events on the same path.
func mergeOperation(existing, next Operation) Operation {
	switch {
	case existing == OpDelete && next == OpCreate:
		// Deleted then recreated.
		return OpCreate
	case next == OpDelete:
		return OpDelete
	default:
		return existing
	}
}

// debounceLoop delivers pending events once no new event arrived for the
// debounce period.
func (w *Watcher) debounceLoop(ctx context.Context) {
	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush hands the settled batch to the handler.
func (w *Watcher) flush(ctx context.Context) {
	batch := w.takeSettled(time.Now())
	if len(batch) == 0 {
		return
	}

	w.logger.Info("processing file events", "count", len(batch))
	if err := w.handler(ctx, batch); err != nil {
		w.logger.Error("handler error", "count", len(batch), "error", err)
	}
}

// takeSettled removes and returns the pending events, sorted by path, if
// the last one is older than the debounce period.
func (w *Watcher) takeSettled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 || now.Sub(w.last) < w.debounce {
		return nil
	}

	batch := make([]Event, 0, len(w.pending))
	for path, op := range w.pending {
		batch = append(batch, Event{Path: path, Operation: op})
	}
	w.pending = make(map[string]Operation)

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		// The file is gone from its original location.
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
