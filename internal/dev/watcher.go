package dev

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeType represents the type of file change.
type ChangeType int

const (
	ChangeModule ChangeType = iota
	ChangeStyle
	ChangeAsset
)

func (t ChangeType) String() string {
	switch t {
	case ChangeModule:
		return "module"
	case ChangeStyle:
		return "style"
	default:
		return "asset"
	}
}

// Change represents a detected file change.
type Change struct {
	Path    string
	Type    ChangeType
	Removed bool
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the directories to watch, recursively.
	Paths []string

	// Ignore patterns to skip (doublestar globs). A pattern without a slash
	// matches any single path segment; one with a slash matches the path
	// relative to its watch root.
	Ignore []string

	// Debounce is how long a path must be quiet before it is reported.
	Debounce time.Duration

	// Extensions classify ChangeModule files. Default: .js, .mjs.
	Extensions []string

	// Logger receives watcher diagnostics. Default: no-op.
	Logger *zap.Logger
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".DS_Store",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher monitors files for changes.
type Watcher struct {
	config   WatcherConfig
	logger   *zap.Logger
	onChange func(Change)
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	pending  map[string]time.Time
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".js", ".mjs"}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		config:  config,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// OnChange sets the callback for file changes.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start watches until ctx is done or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	defer func() {
		fw.Close()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for _, root := range w.config.Paths {
		if err := w.addTree(fw, root, false); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(tickInterval(w.config.Debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			w.flush(time.Now())
		}
	}
}

// minTick bounds how often pending changes are checked.
const minTick = time.Millisecond

func tickInterval(debounce time.Duration) time.Duration {
	return max(debounce/2, minTick)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree registers root and every non-ignored directory below it. With
// markFiles, files already present are queued as changes; a directory that
// appears mid-run may have been populated before its watch was added.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string, markFiles bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if markFiles && !w.shouldIgnore(p) {
				w.mu.Lock()
				w.pending[p] = time.Now()
				w.mu.Unlock()
			}
			return nil
		}
		if p != root && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || w.shouldIgnore(event.Name) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, event.Name, true); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	w.logger.Debug("file event", zap.String("path", event.Name), zap.Stringer("op", event.Op))

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush reports paths that have been quiet for the debounce window, in
// path order.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	callback := w.onChange
	var ready []string
	for p, t := range w.pending {
		if now.Sub(t) >= w.config.Debounce {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	if callback == nil || len(ready) == 0 {
		return
	}

	sort.Strings(ready)
	for _, p := range ready {
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			continue
		}
		callback(Change{
			Path:    p,
			Type:    w.classifyChange(p),
			Removed: os.IsNotExist(err),
		})
	}
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	// Only the part below a watch root is matched.
	rels := w.relativePaths(fullPath)
	if len(rels) == 0 {
		rels = []string{filepath.ToSlash(fullPath)}
	}
	var segments []string
	for _, rel := range rels {
		segments = append(segments, strings.Split(rel, "/")...)
	}

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(filepath.ToSlash(pattern))
		if pattern == "" {
			continue
		}

		if !strings.Contains(pattern, "/") {
			for _, seg := range segments {
				if seg == "" {
					continue
				}
				if ok, _ := doublestar.Match(pattern, seg); ok {
					return true
				}
			}
			continue
		}

		for _, rel := range rels {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
		}
	}

	return false
}

// relativePaths returns fullPath relative to each watch root containing it.
func (w *Watcher) relativePaths(fullPath string) []string {
	var rels []string
	for _, root := range w.config.Paths {
		rel, err := filepath.Rel(root, fullPath)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

// classifyChange determines the type of change based on file extension.
func (w *Watcher) classifyChange(path string) ChangeType {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.config.Extensions {
		if ext == strings.ToLower(e) {
			return ChangeModule
		}
	}
	switch ext {
	case ".css", ".scss", ".sass", ".less":
		return ChangeStyle
	default:
		return ChangeAsset
	}
}
