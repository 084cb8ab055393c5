package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces the bursts of filesystem events editors and
// atomic renames produce for a single logical change.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the configuration file when it changes and delivers the
// result as replace-configuration events. Invalid or unreadable files are
// logged and skipped; the previous configuration stays in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan *Config
	logger  *zap.Logger
}

// NewWatcher creates a watcher for the config file at path.
//
// The parent directory is watched rather than the file itself so that
// atomic replace (write temp + rename) keeps working.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:    path,
		watcher: fsw,
		events:  make(chan *Config, 1),
		logger:  logger,
	}, nil
}

// Events returns the replace-configuration channel. The channel holds at
// most one pending configuration; rapid successive changes coalesce to the
// most recent one.
func (w *Watcher) Events() <-chan *Config {
	return w.events
}

// Start begins watching. It returns when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	// Single pending slot: replace a stale pending config with the newer one.
	select {
	case w.events <- cfg:
	default:
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- cfg:
		default:
		}
	}
	w.logger.Info("configuration change queued", zap.String("path", w.path))
}
