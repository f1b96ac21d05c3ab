package rulepack

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchEvent is one structured event emitted by the compile watcher
type WatchEvent struct {
	Category  string    `json:"category"`
	Trigger   string    `json:"trigger"` // "initial", "fs_change"
	Path      string    `json:"path,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// WatchOptions bounds a watch session
type WatchOptions struct {
	DebounceMs   int // Coalesce filesystem events within this window
	MaxEvents    int // Stop after this many compiles (0 = unbounded)
	WatchSeconds int // Stop after this much wall clock (0 = unbounded)
}

// WatchResult reports why a watch session ended
type WatchResult struct {
	Category     string `json:"category"`
	Compiles     int    `json:"compiles"`
	StopReason   string `json:"stop_reason"` // "max_events", "watch_timeout", "context_cancelled", "watcher_error", "compile_failed"
	LastError    string `json:"last_error,omitempty"`
}

// WatchCompile watches a category's source and control-plane directories
// and recompiles on change, debounced. An initial compile always runs.
// Compile failures inside the loop propagate as compile_failed and stop
// the watcher; watcher errors shut down with watcher_error.
func (c *Compiler) WatchCompile(ctx context.Context, category string, opts WatchOptions, onEvent func(WatchEvent)) (*WatchResult, error) {
	category = NormalizeCategory(category)
	result := &WatchResult{Category: category}

	if opts.DebounceMs <= 0 {
		opts.DebounceMs = 400
	}
	debounce := time.Duration(opts.DebounceMs) * time.Millisecond

	emit := func(event WatchEvent) {
		if onEvent != nil {
			onEvent(event)
		}
	}

	compileOnce := func(trigger, path string) error {
		_, err := c.Compile(category, false)
		result.Compiles++
		event := WatchEvent{
			Category: category,
			Trigger:  trigger,
			Path:     path,
			OK:       err == nil,
			At:       time.Now().UTC(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		emit(event)
		return err
	}

	// Initial compile before watching
	if err := compileOnce("initial", ""); err != nil {
		result.StopReason = "compile_failed"
		result.LastError = err.Error()
		return result, fmt.Errorf("compile_failed: %w", err)
	}
	if opts.MaxEvents > 0 && result.Compiles >= opts.MaxEvents {
		result.StopReason = "max_events"
		return result, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		result.StopReason = "watcher_error"
		result.LastError = err.Error()
		return result, fmt.Errorf("watcher_error: %w", err)
	}
	defer watcher.Close()

	categoryDir := CategoryDir(c.helperRoot, category)
	for _, dir := range []string{
		filepath.Join(categoryDir, DirSource),
		filepath.Join(categoryDir, DirControlPlane),
	} {
		if err := watcher.Add(dir); err != nil {
			c.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
		}
	}

	var deadline <-chan time.Time
	if opts.WatchSeconds > 0 {
		timer := time.NewTimer(time.Duration(opts.WatchSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	var pendingPath string
	var debounceC <-chan time.Time
	var debounceTimer *time.Timer

	arm := func(path string) {
		pendingPath = path
		if debounceTimer == nil {
			debounceTimer = time.NewTimer(debounce)
		} else {
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounce)
		}
		debounceC = debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			result.StopReason = "context_cancelled"
			return result, nil

		case <-deadline:
			result.StopReason = "watch_timeout"
			return result, nil

		case event, ok := <-watcher.Events:
			if !ok {
				result.StopReason = "watcher_error"
				result.LastError = "watcher event channel closed"
				return result, fmt.Errorf("watcher_error: event channel closed")
			}
			if !relevantWatchEvent(event) {
				continue
			}
			arm(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok || err != nil {
				result.StopReason = "watcher_error"
				if err != nil {
					result.LastError = err.Error()
				}
				return result, fmt.Errorf("watcher_error: %v", err)
			}

		case <-debounceC:
			debounceC = nil
			if err := compileOnce("fs_change", pendingPath); err != nil {
				result.StopReason = "compile_failed"
				result.LastError = err.Error()
				return result, fmt.Errorf("compile_failed: %w", err)
			}
			if opts.MaxEvents > 0 && result.Compiles >= opts.MaxEvents {
				result.StopReason = "max_events"
				return result, nil
			}
		}
	}
}

// relevantWatchEvent filters editor temp files and non-mutating events
func relevantWatchEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return false
	}
	return true
}
