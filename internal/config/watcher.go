package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher keeps the config at a path current. It polls the file's mtime and
// reloads when the content hash changes; [Watcher.Reload] forces a check, for
// example on SIGHUP. A version that fails to parse or validate is logged and
// ignored.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger
	onChange func(old, new *Config)

	cur atomic.Pointer[snapshot]

	// reloadMu serialises checks so onChange calls never overlap.
	reloadMu sync.Mutex
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload messages. Default:
// [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads the config at path; a file that does not load is an
// error here. onChange, when non-nil, runs after each reload whose [Diff]
// reports a change.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		log:      slog.Default(),
		onChange: onChange,
	}
	for _, o := range opts {
		o(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.cur.Store(snap)
	return w, nil
}

// Current returns the latest valid config. Callers take it once per
// operation so a reload never changes settings halfway through.
func (w *Watcher) Current() *Config { return w.cur.Load().cfg }

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Run polls until ctx is done and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if info, err := os.Stat(w.path); err != nil {
				w.log.Warn("config: stat failed", "path", w.path, "err", err)
			} else if !info.ModTime().Equal(w.cur.Load().mtime) {
				_, _ = w.Reload()
			}
		}
	}
}

// Reload reads the file now. It reports whether a different config was
// installed; on error the current config stays.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.read()
	if err != nil {
		w.log.Warn("config: reload failed, keeping current config", "path", w.path, "err", err)
		return false, err
	}
	prev := w.cur.Load()
	if next.sum == prev.sum {
		// Touched but not edited: remember the mtime, keep the old config.
		w.cur.Store(&snapshot{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return false, nil
	}
	w.cur.Store(next)

	if !Diff(prev.cfg, next.cfg).Changed() {
		w.log.Debug("config: file changed without effect", "path", w.path)
		return false, nil
	}
	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*snapshot, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	cfg, err := parse(buf.Bytes(), filepath.Dir(w.path))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(buf.Bytes()), mtime: info.ModTime()}, nil
}
