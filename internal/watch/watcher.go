// Package watch implements a long-running fsnotify watcher that re-reads a
// file whenever it changes on disk and hands the new bytes to a callback
// It is the building block the CA-bundle reloader and the webhook
// server's TLS hot-reload are both built on.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	ctrl "sigs.k8s.io/controller-runtime"
)

var logger = ctrl.Log.WithName("watch")

// debounceWindow coalesces the burst of events an atomic rename or editor
// "save" typically produces into a single reload.
const debounceWindow = 100 * time.Millisecond

// OnChange is invoked with the full contents of the watched file every time
// it changes. Returning an error only logs; it does not stop the watcher.
type OnChange func(contents []byte) error

// File watches a single file path and invokes onChange with its contents
// whenever the file is created, written, or replaced (including the
// remove+create pattern used by atomic config-map and secret updates).
type File struct {
	path     string
	onChange OnChange
	watcher  *fsnotify.Watcher
}

// NewFile creates a File watcher. It does not read the file; LoadInitial
// performs the synchronous first read-and-call of onChange before Run, so
// callers start with a loaded value instead of waiting for the first
// fsnotify event.
func NewFile(path string, onChange OnChange) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve absolute path for %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot create file watcher: %w", err)
	}

	// Watch the containing directory rather than the file itself: editors
	// and kubelet's secret/configmap mounts replace the file via rename,
	// which drops the original inode from the watch list.
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("cannot watch directory %s: %w", dir, err)
	}

	return &File{path: absPath, onChange: onChange, watcher: w}, nil
}

// Close stops the underlying fsnotify watcher.
func (f *File) Close() error {
	return f.watcher.Close()
}

// LoadInitial performs the first read of the file and calls onChange with
// its contents. Call this once before Run, so a caller has a value loaded
// before it starts serving.
func (f *File) LoadInitial() error {
	contents, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", f.path, err)
	}
	return f.onChange(contents)
}

// Run blocks, reloading the file and invoking onChange on every relevant
// fsnotify event, until ctx is canceled. Events are debounced so a single
// atomic rename doesn't trigger duplicate reloads.
func (f *File) Run(ctx context.Context) error {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	reload := func() {
		contents, err := os.ReadFile(f.path)
		if err != nil {
			logger.Error(err, "cannot read watched file after change event", "path", f.path)
			return
		}
		if err := f.onChange(contents); err != nil {
			logger.Error(err, "onChange callback failed", "path", f.path)
		}
	}

	debounced := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-f.watcher.Events:
			if !ok {
				return errors.New("file watcher events channel closed")
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceWindow, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return errors.New("file watcher errors channel closed")
			}
			logger.Error(err, "file watcher reported an error", "path", f.path)
		case <-debounced:
			reload()
		}
	}
}
