// Package watcher feeds filesystem events for class files into the search
// service's change listener. It is best-effort plumbing: a missed event is
// reconciled by the next refresh.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/adelbertc/ensime-server/internal/search"
	"github.com/adelbertc/ensime-server/internal/vfs"
)

// ClassfileWatcher monitors class-output directories and forwards
// add/remove/change events to the search service.
type ClassfileWatcher struct {
	watcher *fsnotify.Watcher
	service *search.SearchService
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a watcher bound to the service.
func New(service *search.SearchService) (*ClassfileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ClassfileWatcher{watcher: w, service: service}, nil
}

// Start adds recursive watches over dirs and begins dispatching events.
func (w *ClassfileWatcher) Start(dirs []string) error {
	for _, dir := range dirs {
		if err := w.addWatches(dir); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop ends event dispatch and releases the underlying watcher.
func (w *ClassfileWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *ClassfileWatcher) addWatches(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *ClassfileWatcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *ClassfileWatcher) dispatch(ctx context.Context, event fsnotify.Event) {
	// New directories must be watched too; events inside them follow.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatches(event.Name); err != nil {
				log.Printf("watcher: failed to watch %s: %v", event.Name, err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".class") {
		return
	}
	f, err := vfs.NewFile(event.Name)
	if err != nil {
		log.Printf("watcher: %v", err)
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.service.ClassfileAdded(ctx, f)
	case event.Op&fsnotify.Write != 0:
		w.service.ClassfileChanged(ctx, f)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.service.ClassfileRemoved(ctx, f)
	}
}
