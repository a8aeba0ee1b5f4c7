package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadMarker is the file external tools create inside .git after they
// rewrite history behind the store's back.
const ReloadMarker = "RELOAD_GIT"

type reloadWatcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	marker  string
	done    chan struct{}
}

func newReloadWatcher(s *Store) (*reloadWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	gitDir := filepath.Join(s.root, ".git")
	if err := watcher.Add(gitDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", gitDir, err)
	}

	w := &reloadWatcher{
		store:   s,
		watcher: watcher,
		marker:  filepath.Join(gitDir, ReloadMarker),
		done:    make(chan struct{}),
	}
	go w.watchLoop()

	// A marker dropped while the process was down is handled right away.
	if _, err := os.Stat(w.marker); err == nil {
		w.reload()
	}
	return w, nil
}

func (w *reloadWatcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ReloadMarker {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *reloadWatcher) reload() {
	if err := os.Remove(w.marker); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		w.store.logger.Warn("removing reload marker", zap.Error(err))
	}
	if err := w.store.Reload(); err != nil {
		w.store.logger.Error("reloading repository", zap.Error(err))
	}
}

func (w *reloadWatcher) close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
