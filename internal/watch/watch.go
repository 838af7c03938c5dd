// Package watch rebuilds a project when files under its root change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sherlockcv/shbuild/internal/msg"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher calls OnChange once per burst of file events under Root. Events
// that arrive while OnChange runs, or within one debounce interval after it
// returns, are the rebuild's own writes and are dropped.
type Watcher struct {
	Root     string
	Exclude  []string // relative to Root
	Debounce time.Duration
	OnChange func()

	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	timer      *time.Timer
	running    bool
	quietUntil time.Time
}

func New(root string, exclude []string, onChange func()) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		Root:     root,
		Exclude:  append([]string{".git"}, exclude...),
		Debounce: DefaultDebounce,
		OnChange: onChange,
		watcher:  fsw,
	}, nil
}

// Run watches until ctx is done or the watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	if err := w.addRecursively(w.Root); err != nil {
		return fmt.Errorf("failed to add watchers: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if w.excluded(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			msg.Debug("file event: %s %s", event.Op, event.Name)

			if event.Has(fsnotify.Create) {
				if stat, err := os.Stat(event.Name); err == nil && stat.IsDir() {
					if err := w.addRecursively(event.Name); err != nil {
						msg.Warn("%v", err)
					}
				}
			}
			if w.busy() {
				msg.Debug("ignoring %s during rebuild", event.Name)
				continue
			}
			w.debounce()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			msg.Error("watcher: %v", err)
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.quietUntil = time.Now().Add(w.Debounce)
		w.mu.Unlock()
	}()
	w.OnChange()
}

func (w *Watcher) busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running || time.Now().Before(w.quietUntil)
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.Clean(rel)

	for _, ex := range w.Exclude {
		ex = filepath.Clean(filepath.FromSlash(ex))
		if rel == ex || strings.HasPrefix(rel, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursively(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path) {
			msg.Debug("not watching %s", path)
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
