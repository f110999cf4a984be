// Package inbox imports interchange files dropped into a watched directory.
//
// Each .json, .csv or .gpx file that appears in the inbox is imported once it
// has stopped changing, then moved to processed/ or failed/ next to it.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/reconcile"
)

// Subdirectories that receive handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

const defaultSettle = 500 * time.Millisecond

// Importer imports one file. The reconciler implements it.
type Importer interface {
	ImportFile(ctx context.Context, path string) (*reconcile.Summary, error)
}

// ResultFunc is called after every handled file. summary is nil on failure.
type ResultFunc func(path string, summary *reconcile.Summary, err error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets how long a file must be quiet before it is imported.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithResultFunc registers a callback for finished imports.
func WithResultFunc(fn ResultFunc) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// Watcher watches one inbox directory.
type Watcher struct {
	dir      string
	importer Importer
	log      logger.Logger
	settle   time.Duration
	onResult ResultFunc

	mu      sync.Mutex
	running bool
	fsw     *fsnotify.Watcher
	pending map[string]time.Time // path -> last event
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Watcher for dir. Call Start to begin watching.
func New(dir string, importer Importer, log logger.Logger, opts ...Option) *Watcher {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	w := &Watcher{
		dir:      dir,
		importer: importer,
		log:      log.Module("inbox"),
		settle:   defaultSettle,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start creates the inbox directories, queues files already present and
// starts watching for new ones.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.Newf("inbox watcher already running").
			Component("inbox").
			Category(errors.CategoryState).
			Build()
	}

	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fileError(err, "create_dir", d)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(err).
			Component("inbox").
			Category(errors.CategoryFileIO).
			Context("operation", "new_watcher").
			Build()
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fileError(err, "watch", w.dir)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fsw.Close()
		return fileError(err, "read_dir", w.dir)
	}
	now := time.Now()
	for _, e := range entries {
		if path := filepath.Join(w.dir, e.Name()); !e.IsDir() && accepts(path) {
			w.pending[path] = now
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("inbox watcher started",
		logger.String("dir", w.dir),
		logger.Int("queued", len(w.pending)))
	return nil
}

// Stop stops watching and waits for an import in progress to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, fsw := w.cancel, w.fsw
	w.mu.Unlock()

	cancel()
	err := fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fileError(err, "close_watcher", w.dir)
	}
	w.log.Info("inbox watcher stopped")
	return nil
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	tick := w.settle / 2
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if accepts(event.Name) && filepath.Dir(event.Name) == filepath.Clean(w.dir) {
					w.mu.Lock()
					w.pending[event.Name] = time.Now()
					w.mu.Unlock()
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("inbox watcher error", logger.Error(err))

		case now := <-ticker.C:
			for _, path := range w.due(now) {
				if ctx.Err() != nil {
					return
				}
				w.handle(ctx, path)
			}
		}
	}
}

// due removes and returns the paths that have been quiet for the settle delay.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	return ready
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// moved away or deleted before it settled
		return
	}

	summary, err := w.importer.ImportFile(ctx, path)
	dest := ProcessedDir
	if err != nil {
		dest = FailedDir
		w.log.Error("inbox import failed",
			logger.String("file", filepath.Base(path)),
			logger.Error(err))
	} else {
		w.log.Info("inbox import finished",
			logger.String("file", filepath.Base(path)),
			logger.Int("imported", summary.Imported),
			logger.Int("skipped", summary.Skipped),
			logger.Int("remapped", summary.Remapped))
	}

	if moved, mvErr := move(path, filepath.Join(w.dir, dest)); mvErr != nil {
		w.log.Error("failed to move inbox file",
			logger.String("file", path),
			logger.Error(mvErr))
	} else {
		path = moved
	}

	if w.onResult != nil {
		w.onResult(path, summary, err)
	}
}

func accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, err := reconcile.FormatFromPath(path)
	return err == nil
}

// move renames path into dir, adding a timestamp when the name is taken.
func move(path, dir string) (string, error) {
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		stem := strings.TrimSuffix(filepath.Base(target), ext)
		target = filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, time.Now().UTC().Format("20060102T150405.000000000"), ext))
	}
	if err := os.Rename(path, target); err != nil {
		return "", fileError(err, "move", path)
	}
	return target, nil
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("inbox").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
