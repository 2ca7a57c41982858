package skills

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Loader whenever a file under its watched directories
// changes, so skill edits take effect without a restart.
type Watcher struct {
	loader *Loader
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// NewWatcher prepares a Watcher over loader's workspace, global, and extra
// skill directories. Call Start to begin watching.
func NewWatcher(loader *Loader) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{loader: loader, fsw: fsw, done: make(chan struct{})}

	for _, dir := range w.watchDirs() {
		if err := fsw.Add(dir); err != nil {
			slog.Debug("skills: watch dir unavailable", "dir", dir, "error", err)
		}
	}

	return w, nil
}

// Start begins the watch goroutine, stopping it when ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	go w.run(ctx)
	return nil
}

func (w *Watcher) watchDirs() []string {
	var dirs []string
	if w.loader.workspaceDir != "" {
		dirs = append(dirs, w.loader.workspaceDir+"/skills")
	}
	if w.loader.globalDir != "" {
		dirs = append(dirs, w.loader.globalDir)
	}
	if w.loader.extraDir != "" {
		dirs = append(dirs, w.loader.extraDir)
	}
	return dirs
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.loader.Reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Debug("skills: watcher error", "error", err)
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

// Stop stops the watcher and releases its file descriptors.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}

// Close is an alias for Stop, for callers preferring io.Closer semantics.
func (w *Watcher) Close() error {
	return w.Stop()
}
