// Package watch reports debounced changes to local source files.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const defaultDebounce = 2 * time.Second

// Options configures a Watcher.
type Options struct {
	// Paths are files or directories. Directories are watched recursively.
	Paths []string
	// Debounce is the quiet period after the last event before a Change is
	// emitted.
	Debounce time.Duration
	// SkipDir reports directories that are not watched, such as .git.
	SkipDir func(path string) bool
}

// Change is a batch of paths that changed within one debounce window.
type Change struct {
	Paths []string
	At    time.Time
}

// Watcher emits a Change after bursts of filesystem events settle.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	skipDir  func(string) bool
	logger   *logging.Logger

	files map[string]bool
	roots []string

	changes chan Change
	stop    chan struct{}
	once    sync.Once
}

// New creates a watcher for opts.Paths. Every path must exist.
func New(opts Options, logger *logging.Logger) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New("no paths to watch")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.SkipDir == nil {
		opts.SkipDir = func(string) bool { return false }
	}

	w := &Watcher{
		debounce: opts.Debounce,
		skipDir:  opts.SkipDir,
		logger:   logger,
		files:    map[string]bool{},
		changes:  make(chan Change, 1),
		stop:     make(chan struct{}),
	}
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
		if info.IsDir() {
			w.roots = append(w.roots, abs)
		} else {
			w.files[abs] = true
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w.fs = fw
	return w, nil
}

// Start registers the watches and processes events until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	// Editors replace files by rename, so single files are watched through
	// their directory.
	for f := range w.files {
		if err := w.fs.Add(filepath.Dir(f)); err != nil {
			return fmt.Errorf("watching %s: %w", f, err)
		}
	}
	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	go w.loop(ctx)
	return nil
}

// Changes returns the channel of debounced changes. At most one change is
// pending; later events merge into the next one.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Stop stops the watcher and closes the underlying descriptor.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.fs.Close()
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	if w.files[name] {
		return true
	}
	if w.skipDir(name) {
		return false
	}
	for _, root := range w.roots {
		if strings.HasPrefix(name, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	var (
		pending = map[string]bool{}
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || !w.relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.skipDir(ev.Name) {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn(ctx, "watching new directory failed", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			w.logger.Trace(ctx, "filesystem event", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = map[string]bool{}
			select {
			case w.changes <- Change{Paths: paths, At: time.Now()}:
			default:
				w.logger.Debug(ctx, "change merged into pending run", zap.Int("paths", len(paths)))
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "filesystem watcher error", zap.Error(err))
		}
	}
}
