// Package watch observes the config file and emits debounced reload signals.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of filesystem events.
const DefaultDebounce = 200 * time.Millisecond

// Signal is emitted on the watcher channel.
type Signal uint8

const (
	Reload Signal = iota + 1
	Died
)

func (s Signal) String() string {
	switch s {
	case Reload:
		return "reload"
	case Died:
		return "died"
	default:
		return "unknown"
	}
}

// Watcher watches the parent directory of one file so unlink-and-rename saves are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	fs       *fsnotify.Watcher
	signals  chan Signal
}

// New arms a watcher on path's directory. debounce <= 0 uses DefaultDebounce.
func New(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	clean := filepath.Clean(path)
	dir := filepath.Dir(clean)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config dir %q: %w", dir, err)
	}

	return &Watcher{
		path:     clean,
		debounce: debounce,
		logger:   logger,
		fs:       fsw,
		signals:  make(chan Signal, 1),
	}, nil
}

// Signals yields Reload after each debounced burst, or a single Died before closing.
func (w *Watcher) Signals() <-chan Signal {
	return w.signals
}

// Run delivers signals until ctx is cancelled or the watch handle fails.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.signals)
	defer w.fs.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				w.die(ctx, errors.New("event channel closed"))
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("config file event", "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				err = errors.New("error channel closed")
			}
			w.die(ctx, err)
			return
		case <-timer.C:
			select {
			case w.signals <- Reload:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) die(ctx context.Context, err error) {
	w.logger.Error("config watcher died", "error", err)
	select {
	case w.signals <- Died:
	case <-ctx.Done():
	}
}
