// Package watch runs a callback for files that land or change in a
// directory, once their writes settle.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/logflow/recsplit/pkg/errors"
)

// DefaultDebounce is the quiet period before a changed file is handled.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors a directory for new or changed files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	debounce time.Duration

	mu    sync.Mutex
	files map[string]*fileState

	OnChange func(ctx context.Context, path string) error
	OnError  func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
	processing   bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPattern only handles files whose base name matches the glob.
func WithPattern(glob string) Option {
	return func(w *Watcher) { w.pattern = glob }
}

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New watches dir.
func New(dir string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "failed to resolve path")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.FileNotFound(dir)
	}
	if !info.IsDir() {
		return nil, errors.InvalidFormat("watch directory", dir)
	}

	w := &Watcher{
		dir:      abs,
		debounce: DefaultDebounce,
		files:    make(map[string]*fileState),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pattern != "" {
		if _, err := filepath.Match(w.pattern, ""); err != nil {
			return nil, errors.InvalidFormat("watch pattern", w.pattern)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to create watcher")
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, errors.Wrap(err, errors.CodeResource, "failed to watch directory").WithContext("dir", dir)
	}
	w.watcher = fsw
	return w, nil
}

func (w *Watcher) matches(path string) bool {
	if w.pattern == "" {
		return true
	}
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

// Run handles events until ctx is cancelled. Pending callbacks finish
// before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	var wg sync.WaitGroup
	defer func() {
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if !filepath.IsAbs(path) {
				path = filepath.Join(w.dir, path)
			}
			if !w.matches(path) {
				continue
			}

			// restart the quiet period on every write
			if t, exists := timers[path]; exists && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timers[path] = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				w.handleChange(ctx, path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// removed before it settled
		return
	}
	if info.IsDir() {
		return
	}

	w.mu.Lock()
	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.processing || (info.ModTime().Equal(state.lastModified) && info.Size() == state.size) {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.lastModified = info.ModTime()
	state.size = info.Size()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	if w.OnChange == nil {
		return
	}
	if err := w.OnChange(ctx, path); err != nil && w.OnError != nil {
		w.OnError(path, err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
