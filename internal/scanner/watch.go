// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package scanner

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay mirrors the teacher's watcher default of 2 seconds between
// the last filesystem event for a path and the callback firing.
const debounceDelay = 2 * time.Second

// Watcher incrementally re-scans a repository as files change on disk,
// debouncing bursts of writes into a single callback per settled file.
// Grounded on the teacher's internal/drone/watcher.Manager, stripped of its
// gRPC droneClient hand-off (internal/scanner calls back directly into
// whatever the caller supplies, normally the indexing pipeline) and of its
// ClientDB/event-broadcaster coupling (callers that want persistence or
// progress events wire those at the callback, not inside the watcher).
type Watcher struct {
	repoPath  string
	onChange  func(relPath string)
	onRemove  func(relPath string)
	fsWatcher *fsnotify.Watcher
	debouncer *debouncer

	mu      sync.Mutex
	watched map[string]bool // absolute dir paths currently under watch
	done    chan struct{}
}

// NewWatcher constructs a Watcher rooted at repoPath. onChange is called
// (debounced) with the repo-relative path of a file that was created or
// written; onRemove is called with the repo-relative path of a file that
// was deleted or renamed away.
func NewWatcher(repoPath string, onChange, onRemove func(relPath string)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		repoPath:  repoPath,
		onChange:  onChange,
		onRemove:  onRemove,
		fsWatcher: fsWatcher,
		watched:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	w.debouncer = newDebouncer(debounceDelay, w.handleSettled)
	return w, nil
}

// Start begins watching the repository tree, recursively adding every
// existing directory, and returns once the first watch is established. Event
// processing continues on a background goroutine until Stop is called.
func (w *Watcher) Start() error {
	if err := w.addTreeRecursive(w.repoPath); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Stop tears down the filesystem watch and cancels any pending debounce timers.
func (w *Watcher) Stop() error {
	close(w.done)
	w.debouncer.stop()
	return w.fsWatcher.Close()
}

func (w *Watcher) addTreeRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isIgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.addWatchDir(path)
	})
}

func (w *Watcher) addWatchDir(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[path] {
		return nil
	}
	if err := w.fsWatcher.Add(path); err != nil {
		return err
	}
	w.watched[path] = true
	return nil
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("scanner: watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)
	switch {
	case event.Op&fsnotify.Create != 0 && statErr == nil && info.IsDir():
		if !isIgnoredDir(filepath.Base(event.Name)) {
			if err := w.addTreeRecursive(event.Name); err != nil {
				log.Printf("scanner: failed to watch new directory %s: %v", event.Name, err)
			}
		}
		return
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if IsTemporaryFile(event.Name) || !IsSupportedFile(event.Name) {
			return
		}
		w.debouncer.trigger(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.debouncer.cancel(event.Name)
		if IsSupportedFile(event.Name) && w.onRemove != nil {
			if rel, err := filepath.Rel(w.repoPath, event.Name); err == nil {
				w.onRemove(filepath.ToSlash(rel))
			}
		}
	}
}

func (w *Watcher) handleSettled(absPath string) {
	rel, err := filepath.Rel(w.repoPath, absPath)
	if err != nil {
		log.Printf("scanner: cannot relativize %s: %v", absPath, err)
		return
	}
	if w.onChange != nil {
		w.onChange(filepath.ToSlash(rel))
	}
}
