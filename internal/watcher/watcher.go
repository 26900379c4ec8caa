// Package watcher watches catalog feed files with fsnotify and triggers a
// debounced refresh when any of them change.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches the configured feed files and invokes onChange once per
// burst of writes. Editors and feed exporters typically replace files via
// write-then-rename, so the parent directories are watched rather than the
// files themselves, and events are filtered back down to the feed paths.
type Watcher struct {
	feeds    map[string]bool // clean absolute feed paths
	onChange func()
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the quiet period before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over the given feed files. onChange is called
// after writes settle; a burst of events produces a single call.
func NewWatcher(feedPaths []string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		feeds:    make(map[string]bool, len(feedPaths)),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, p := range feedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		w.feeds[abs] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	dirs := make(map[string]bool)
	for feed := range w.feeds {
		dirs[filepath.Dir(feed)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			w.mu.Unlock()
			return err
		}
	}

	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting",
			zap.Int("feeds", len(w.feeds)), zap.Duration("debounce", w.debounce))
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

// run receives the fsnotify watcher as an argument: Stop nils w.watcher
// concurrently, and the closed channels end the loop on their own.
func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !w.feeds[filepath.Clean(ev.Name)] {
		return
	}
	if w.logger != nil {
		w.logger.Debug("feed changed", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	w.scheduleRefresh()
}

// scheduleRefresh resets the debounce timer. Only the last event of a burst
// fires onChange.
func (w *Watcher) scheduleRefresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		logger := w.logger
		w.mu.Unlock()
		if logger != nil {
			logger.Debug("feed changes settled, triggering refresh")
		}
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Feeds returns the watched feed paths.
func (w *Watcher) Feeds() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.feeds))
	for p := range w.feeds {
		paths = append(paths, p)
	}
	return paths
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
