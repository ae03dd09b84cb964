// Package watcher notifies, with debouncing, when catalog files or the
// installed icon library change on disk.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/archnodes/internal/log"
)

// Watcher monitors files and directory trees and signals on change.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	files      map[string]bool // watched individual files
	roots      []string        // watched directory trees
	extensions []string
	debounce   time.Duration
	onChange   chan struct{}
	done       chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Paths are files or directories. Directories are watched recursively.
	Paths []string

	// Extensions limits directory events to these suffixes, e.g. ".yaml".
	// Empty accepts every file. Explicitly listed files always match.
	Extensions []string

	DebounceDur time.Duration
}

// DefaultConfig watches paths for catalog and library source changes.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:       paths,
		Extensions:  []string{".yaml", ".yml", ".py", ".db"},
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher:  fsw,
		files:      make(map[string]bool),
		extensions: cfg.Extensions,
		debounce:   cfg.DebounceDur,
		onChange:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, p := range cfg.Paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		switch {
		case err != nil:
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		case info.IsDir():
			w.roots = append(w.roots, abs)
		default:
			w.files[abs] = true
		}
	}
	return w, nil
}

// Start begins watching. The returned channel receives one signal per burst
// of changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	// Files are watched through their directory so atomic renames are seen.
	for file := range w.files {
		dir := filepath.Dir(file)
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}
	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return nil, err
		}
	}

	go w.loop()

	log.Debug(log.CatWatcher, "Watching", "files", len(w.files), "trees", len(w.roots))
	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watching directory %s: %w", path, err)
		}
		return nil
	})
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			w.followNewDirectory(event)
			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Drop the signal if one is already queued.
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "Watch error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// followNewDirectory adds directories created inside a watched tree.
func (w *Watcher) followNewDirectory(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) || !w.inTree(event.Name) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(event.Name); err != nil {
		log.ErrorErr(log.CatWatcher, "Failed to watch new directory", err, "path", event.Name)
	}
}

// isRelevantEvent checks if the event should trigger a reload.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if w.files[event.Name] {
		return true
	}
	if !w.inTree(event.Name) {
		return false
	}
	if len(w.extensions) == 0 {
		return true
	}
	return slices.Contains(w.extensions, filepath.Ext(event.Name))
}

func (w *Watcher) inTree(path string) bool {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
