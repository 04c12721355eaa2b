// Package watcher turns filesystem events under the notebook root into debounced
// single-file syncs.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// DefaultDebounce coalesces bursts of editor writes into one sync.
const DefaultDebounce = 1500 * time.Millisecond

// fullSyncKey is the pending-map key for a debounced full sync.
const fullSyncKey = ""

// Trigger is the sync side the watcher drives.
type Trigger interface {
	SyncFile(ctx context.Context, path string) (*models.SyncResult, error)
	FullSync(ctx context.Context) (*models.SyncResult, error)
}

// Watcher watches the notebook root recursively and triggers syncs on changes.
type Watcher struct {
	root     string
	allowed  func(rel string) bool
	trigger  Trigger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	ctx      context.Context
	mu       sync.Mutex
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events and sync failures.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must be quiet before it is synced.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for root. allowed filters notebook-relative file
// paths; nil accepts every file.
func NewWatcher(root string, allowed func(rel string) bool, trigger Trigger, opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		allowed:  allowed,
		trigger:  trigger,
		debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The root is created when missing. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		w.mu.Unlock()
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	if err := w.addTreeLocked(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		w.mu.Unlock()
		return err
	}
	w.started = true
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("watcher started", zap.String("root", w.root), zap.Duration("debounce", w.debounce))
	}
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, ok := w.relative(ev.Name)
	if !ok || hidden(rel) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", rel))
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(ev.Name)
			return
		}
		if w.accepts(rel) {
			w.schedule(rel)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.accepts(rel) {
			// SyncFile drops paths that no longer exist.
			w.schedule(rel)
			return
		}
		if filepath.Ext(rel) == "" {
			// Likely a directory; its files are not reported one by one.
			w.schedule(fullSyncKey)
		}
	}
}

// handleNewDirectory watches a directory that appeared (created or moved in) and
// schedules every file already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.started {
		if err := w.addTreeLocked(dir); err != nil && w.logger != nil {
			w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
		}
	}
	w.mu.Unlock()

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.relative(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden(rel) && w.accepts(rel) {
			w.schedule(rel)
		}
		return nil
	})
}

// addTreeLocked adds dir and its non-hidden subdirectories. Caller holds mu.
func (w *Watcher) addTreeLocked(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// schedule (re)starts the debounce timer for rel, or for a full sync when rel is fullSyncKey.
func (w *Watcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[rel]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.pending[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		w.mu.Unlock()
		w.fire(ctx, rel)
	})
}

func (w *Watcher) fire(ctx context.Context, rel string) {
	if ctx.Err() != nil {
		return
	}
	var (
		res *models.SyncResult
		err error
	)
	if rel == fullSyncKey {
		res, err = w.trigger.FullSync(ctx)
	} else {
		res, err = w.trigger.SyncFile(ctx, rel)
	}
	if w.logger == nil {
		return
	}
	if err != nil {
		w.logger.Error("watcher sync failed", zap.String("path", rel), zap.Error(err))
		return
	}
	if len(res.Errors) > 0 {
		w.logger.Warn("watcher sync reported file errors", zap.String("path", rel), zap.Any("errors", res.Errors))
		return
	}
	w.logger.Debug("watcher sync done", zap.String("path", rel),
		zap.Int("added", res.Added), zap.Int("updated", res.Updated), zap.Int("removed", res.Removed))
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || rel == "." || !inDir(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) accepts(rel string) bool {
	return w.allowed == nil || w.allowed(rel)
}

func inDir(rel string) bool {
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden reports whether any element of a slash-separated path starts with a dot.
func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Pending returns the number of debounced syncs not yet fired.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stop stops the watcher and drops pending syncs.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
