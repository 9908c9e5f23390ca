package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before signalling a change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to an identity source. It watches the source
// directory and, in directory mode, every host subdirectory so that
// certbot's symlink swaps are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	changes  chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for the identity source at path.
func NewWatcher(path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		changes:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Changes receives one value per settled burst of changes. Signals are
// coalesced while the receiver is busy.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("identity: create watcher: %w", err)
	}
	defer fw.Close()

	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("identity: stat %s: %w", w.path, err)
	}

	dirMode := info.IsDir()
	root := w.path
	if !dirMode {
		// Watch the parent so editors that rename over the file are seen.
		root = filepath.Dir(w.path)
	}
	if err := fw.Add(root); err != nil {
		return fmt.Errorf("identity: watch %s: %w", root, err)
	}
	if dirMode {
		w.addHostDirs(fw)
	}

	w.logger.Info("identity watcher started", "path", w.path, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event, dirMode) {
				continue
			}
			w.logger.Debug("identity source changed", "file", event.Name, "op", event.Op.String())

			if dirMode && event.Has(fsnotify.Create) && filepath.Dir(event.Name) == root {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := fw.Add(event.Name); err != nil {
						w.logger.Warn("identity watcher add failed", "dir", event.Name, "error", err)
					}
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("identity watcher error", "error", err, "path", w.path)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) addHostDirs(fw *fsnotify.Watcher) {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		w.logger.Warn("identity watcher cannot list source", "path", w.path, "error", err)
		return
	}
	for _, entry := range entries {
		dir := filepath.Join(w.path, entry.Name())
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("identity watcher add failed", "dir", dir, "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event, dirMode bool) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if dirMode {
		return true
	}
	src, err := filePair(w.path)
	if err != nil {
		return false
	}
	base := filepath.Base(event.Name)
	return base == filepath.Base(src.certFile) || base == filepath.Base(src.keyFile)
}
