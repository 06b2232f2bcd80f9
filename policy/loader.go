package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/example/warden/telemetry"
)

// reloadDelay debounces bursts of file events into one reload
const reloadDelay = 250 * time.Millisecond

// Loader reads .rego policies from a directory and keeps the engine
// in sync when files change on disk.
type Loader struct {
	dir    string
	engine *Engine
	logger *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader for the given policy directory
func NewLoader(dir string, engine *Engine) *Loader {
	return &Loader{
		dir:    dir,
		engine: engine,
		logger: telemetry.NewLogger("policy-loader"),
	}
}

// Load reads every .rego file under the directory and replaces the
// engine's policy set. Returns the number of policies loaded.
func (l *Loader) Load(ctx context.Context) (int, error) {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return 0, fmt.Errorf("policy directory does not exist: %s", l.dir)
	}

	policies := make(map[string]string)

	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}

		if err := l.validateFilePath(path); err != nil {
			return fmt.Errorf("invalid policy path %s: %w", path, err)
		}

		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		name := strings.TrimSuffix(filepath.Base(path), ".rego")
		policies[name] = string(content)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.engine.ReplacePolicies(ctx, policies); err != nil {
		return 0, err
	}

	l.logger.WithContext(ctx).Info().
		Str("dir", l.dir).
		Int("count", len(policies)).
		Msg("policies loaded from directory")

	return len(policies), nil
}

// validateFilePath guards against directory traversal
func (l *Loader) validateFilePath(path string) error {
	relPath, err := filepath.Rel(filepath.Clean(l.dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}

// Watch reloads the policy set whenever .rego files change. It blocks
// until the context is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.logger.WithContext(ctx).Info().
		Str("dir", l.dir).
		Msg("watching policy directory")

	l.processEvents(ctx, watcher)
	return nil
}

// processEvents debounces file events into reloads
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = l.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isPolicyChange(event) {
				continue
			}

			l.logger.WithContext(ctx).Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if _, err := l.Load(ctx); err != nil {
					l.logger.WithContext(ctx).Error().
						Err(err).
						Msg("policy reload failed, keeping previous set")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithContext(ctx).Error().Err(err).Msg("watcher error")
		}
	}
}

// isPolicyChange reports whether the event affects the loaded set
func isPolicyChange(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".rego") {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// Close stops watching for file changes
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
