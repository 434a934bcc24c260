package prayer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// SettleDelay is how long the file must stay untouched before it is read.
const SettleDelay = 100 * time.Millisecond

// ErrWatcherClosed is returned by Next once the watcher is closed.
var ErrWatcherClosed = errors.New("prayers watcher closed")

// Watcher reloads a prayers file whenever it is written.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *log.Logger
}

// Watch starts watching path. The directory is watched rather than the file
// so that editors which replace the file on save are noticed too.
func Watch(path string, logger *log.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve %s: %w", path, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("error watching %s: %w", dir, err)
	}
	logger.Debug("fsnotify watching dir", "dir", dir)
	return &Watcher{path: abs, watcher: w, logger: logger}, nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string { return w.path }

// Next blocks until the file is written or created and returns its new
// contents once writes have paused for SettleDelay. A file that fails to
// load is reported as an error; the watcher keeps running.
func (w *Watcher) Next(ctx context.Context) ([]Prayer, error) {
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil, ErrWatcherClosed
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			settled = time.After(SettleDelay)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil, ErrWatcherClosed
			}
			w.logger.Error("fsnotify error", "error", err)
		case <-settled:
			return LoadFile(w.path)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Changed returns the ids of prayers in before whose spoken text differs in
// after, or which after no longer has. Audio built for them is out of date.
func Changed(before, after []Prayer) []string {
	var ids []string
	for _, old := range before {
		p, ok := Find(after, old.ID)
		if !ok || SpeakableText(p) != SpeakableText(old) {
			ids = append(ids, old.ID)
		}
	}
	return ids
}
