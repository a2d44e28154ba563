// Package watch keeps a directory of translated SQL files in step with a
// directory of MySQL-flavoured sources.
package watch

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/dongle/pkg/dongle"
	dgerrors "github.com/ha1tch/dongle/pkg/errors"
	"github.com/ha1tch/dongle/pkg/log"
)

// DefaultDebounceDelay batches bursts of editor writes into one translation.
const DefaultDebounceDelay = 100 * time.Millisecond

// Event kinds passed to the OnTranslate callback.
const (
	EventCreated   = "created"
	EventModified  = "modified"
	EventUnchanged = "unchanged"
	EventRemoved   = "removed"
)

// Watcher translates .sql files from a source tree into an output tree and
// keeps the output current as sources change.
type Watcher struct {
	mu sync.RWMutex

	// Configuration
	src        string
	dst        string
	translator *dongle.Translator
	logger     *log.Logger

	fsWatcher *fsnotify.Watcher

	// State
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Debouncing: collect events and process in batches
	debounceDelay time.Duration
	pendingEvents map[string]fsnotify.Op
	eventTimer    *time.Timer
	batches       sync.WaitGroup

	// Callbacks
	onTranslate func(src, dst, event string)
	onError     func(err error)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for batching file events.
// Default is 100ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnTranslate sets a callback run after each output file is written or
// removed.
func WithOnTranslate(fn func(src, dst, event string)) WatcherOption {
	return func(w *Watcher) {
		w.onTranslate = fn
	}
}

// WithOnError sets a callback for error events.
func WithOnError(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher translating src into dst with tr. A nil
// logger uses log.Default().
func NewWatcher(src, dst string, tr *dongle.Translator, logger *log.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return nil, err
	}

	if within(absDst, absSrc) {
		return nil, dgerrors.InvalidConfig("dst", "output directory must not contain the source directory").
			WithField("src", absSrc).
			WithField("dst", absDst).
			Err()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		src:           absSrc,
		dst:           absDst,
		translator:    tr,
		logger:        logger,
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: DefaultDebounceDelay,
		pendingEvents: make(map[string]fsnotify.Op),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// TranslateAll translates every .sql file under the source tree once and
// returns how many files were processed.
func (w *Watcher) TranslateAll() (int, error) {
	count := 0
	err := filepath.WalkDir(w.src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.src && w.skipDir(path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSQLFile(path) {
			return nil
		}
		if err := w.translateFile(path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	w.logger.Watch().Info("translated source tree",
		"src", w.src,
		"dst", w.dst,
		"files", count,
	)
	return count, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Add watches for all directories
	if err := w.addWatchesRecursive(w.src); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Watch().Info("watcher started",
		"src", w.src,
		"dst", w.dst,
		"dialect", w.translator.Dialect().String(),
	)

	go w.processEvents()

	return nil
}

// Stop stops the watcher and releases its file handles. It is also safe to
// call on a watcher that was never started. A stopped watcher cannot be
// restarted.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsWatcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	// A timer that already fired may still be translating its batch.
	w.batches.Wait()

	w.logger.Watch().Info("watcher stopped")

	return w.fsWatcher.Close()
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// skipDir reports whether a directory is hidden or is the output tree.
func (w *Watcher) skipDir(path, name string) bool {
	return strings.HasPrefix(name, ".") || w.isOutput(path)
}

func (w *Watcher) isOutput(path string) bool {
	return within(w.dst, path)
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addWatchesRecursive adds watches for a directory and all subdirectories.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path, d.Name()) {
			return filepath.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Watch().Warn("failed to watch directory",
				"path", path,
				"error", err.Error(),
			)
			// Continue watching other directories
			return nil
		}

		w.logger.Watch().Debug("watching directory",
			"path", path,
		)
		return nil
	})
}

// processEvents handles fsnotify events.
func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			w.mu.Unlock()
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
			w.reportError("watcher error", err)
		}
	}
}

// handleEvent processes a single fsnotify event with debouncing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.isOutput(event.Name) {
		return
	}

	if !isSQLFile(event.Name) {
		// New directories need their own watch
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addWatchesRecursive(event.Name); err != nil {
					w.reportError("failed to watch new directory", err)
				}
			}
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Last operation wins for the same file
	w.pendingEvents[event.Name] = event.Op

	if w.eventTimer != nil {
		w.eventTimer.Stop()
	}
	w.eventTimer = time.AfterFunc(w.debounceDelay, w.processPendingEvents)
}

// processPendingEvents processes all accumulated events. Batches that fire
// after Stop are dropped.
func (w *Watcher) processPendingEvents() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.batches.Add(1)
	defer w.batches.Done()
	events := w.pendingEvents
	w.pendingEvents = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for path, op := range events {
		w.processFileEvent(path, op)
	}
}

func (w *Watcher) processFileEvent(path string, op fsnotify.Op) {
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		// A rename-over leaves the path in place
		if _, err := os.Stat(path); err == nil {
			w.handleFileChanged(path)
			return
		}
		w.handleFileRemoved(path)
		return
	}

	if op.Has(fsnotify.Create) || op.Has(fsnotify.Write) {
		w.handleFileChanged(path)
	}
}

func (w *Watcher) handleFileChanged(path string) {
	if err := w.translateFile(path); err != nil {
		w.reportError("failed to translate file", err, "path", path)
	}
}

// translateFile writes the translation of one source file, skipping the
// write when the output is already current.
func (w *Watcher) translateFile(path string) error {
	out, err := w.outputPath(path)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	translated := []byte(w.translator.Translate(string(source)))

	event := EventCreated
	if existing, err := os.ReadFile(out); err == nil {
		if bytes.Equal(existing, translated) {
			w.logger.Watch().Debug("output unchanged, skipping write",
				"path", path,
			)
			w.notify(path, out, EventUnchanged)
			return nil
		}
		event = EventModified
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, translated, 0o644); err != nil {
		return err
	}

	w.logger.Watch().Info("file translated",
		"event", event,
		"src", path,
		"dst", out,
	)
	w.notify(path, out, event)
	return nil
}

func (w *Watcher) handleFileRemoved(path string) {
	out, err := w.outputPath(path)
	if err != nil {
		w.reportError("failed to resolve output path", err, "path", path)
		return
	}

	if err := os.Remove(out); err != nil {
		if !os.IsNotExist(err) {
			w.reportError("failed to remove output", err, "path", out)
		}
		return
	}

	w.logger.Watch().Info("output removed",
		"src", path,
		"dst", out,
	)
	w.notify(path, out, EventRemoved)
}

// outputPath maps a source file to the same relative path under dst.
func (w *Watcher) outputPath(path string) (string, error) {
	rel, err := filepath.Rel(w.src, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dst, rel), nil
}

func (w *Watcher) notify(src, dst, event string) {
	if w.onTranslate != nil {
		w.onTranslate(src, dst, event)
	}
}

func (w *Watcher) reportError(msg string, err error, fields ...interface{}) {
	w.logger.Watch().Error(msg, err, fields...)
	if w.onError != nil {
		w.onError(err)
	}
}

func isSQLFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".sql")
}
