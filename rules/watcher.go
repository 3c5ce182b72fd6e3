package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period before a burst of file events triggers a reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// RuleSetWatcher watches rule-set files and calls onChange after changes settle.
// Typically onChange is RuleSetStore.InvalidateAll.
type RuleSetWatcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewRuleSetWatcher creates a watcher for a file or a directory tree.
func NewRuleSetWatcher(path string, debounce time.Duration, onChange func(ctx context.Context) error, logger *slog.Logger) *RuleSetWatcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleSetWatcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With("component", "rules.watcher"),
	}
}

// Watch blocks until ctx is cancelled or the underlying watcher fails.
func (w *RuleSetWatcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := w.add(fw); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}
	w.logger.Info("rule-set watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rule-set watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.Add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("rule-set file event", "path", event.Name, "op", event.Op.String())
			w.trigger(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rule-set watcher error", "error", err)
		}
	}
}

func (w *RuleSetWatcher) add(fw *fsnotify.Watcher) error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Editors replace files on save; watching the parent keeps the watch alive.
		return fw.Add(filepath.Dir(w.path))
	}
	return filepath.WalkDir(w.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".yaml" || ext == ".yml"
}

// trigger restarts the debounce timer.
func (w *RuleSetWatcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.onChange(ctx); err != nil {
			w.logger.Error("rule-set reload failed", "error", err)
			return
		}
		w.logger.Info("rule-set files changed, cache invalidated", "path", w.path)
	})
}

func (w *RuleSetWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
