package servable

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads servables as version directories appear or disappear
// under the repository root. Events are debounced per servable so a
// model file still being copied in does not trigger a half-loaded
// version.
type Watcher struct {
	registry *Registry
	fs       *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides the reload debounce window.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(logger *zap.Logger) WatchOption {
	return func(w *Watcher) { w.logger = logger }
}

// Watch starts watching the registry's repository root.
func Watch(registry *Registry, opts ...WatchOption) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		registry: registry,
		fs:       fs,
		logger:   zap.NewNop(),
		debounce: 500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fs.Add(registry.Root()); err != nil {
		_ = fs.Close()
		return nil, err
	}
	entries, err := os.ReadDir(registry.Root())
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fs.Add(filepath.Join(registry.Root(), entry.Name())); err != nil {
				w.logger.Warn("watch servable dir", zap.String("servable", entry.Name()), zap.Error(err))
			}
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops the watcher and any pending reload timers.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name, isRoot := w.servableFor(event.Name)
	if name == "" {
		return
	}

	if event.Op.Has(fsnotify.Create) && isRoot {
		// New servable directory: watch it so version dirs are seen.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(event.Name); err != nil {
				w.logger.Warn("watch servable dir", zap.String("servable", name), zap.Error(err))
			}
		}
	}

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		if isRoot {
			if _, err := os.Stat(filepath.Join(w.registry.Root(), name)); os.IsNotExist(err) {
				w.registry.Remove(name)
				return
			}
		}
	}

	w.scheduleReload(name)
}

// servableFor resolves which servable an event path belongs to. isRoot
// reports that the path is the servable directory itself.
func (w *Watcher) servableFor(path string) (name string, isRoot bool) {
	rel, err := filepath.Rel(w.registry.Root(), path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return parts[0], len(parts) == 1
}

func (w *Watcher) scheduleReload(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		return
	}
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.registry.Reload(name); err != nil {
			if _, statErr := os.Stat(filepath.Join(w.registry.Root(), name)); os.IsNotExist(statErr) {
				w.registry.Remove(name)
			} else {
				w.logger.Error("reload servable", zap.String("servable", name), zap.Error(err))
			}
			return
		}
		w.logger.Info("reloaded servable", zap.String("servable", name))
	})
}
