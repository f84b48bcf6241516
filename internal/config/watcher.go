package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls a callback when its content changes
// to another valid configuration. Invalid edits are logged and ignored; the
// previous configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)
	log      *slog.Logger

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv applies [ApplyEnv] with lookup to every loaded config.
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads the config at path immediately. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if it changed and calls onChange for a new valid config.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched but unchanged.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash reads, parses and validates the file, returning it with the
// content hash and modification time.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	if w.lookup != nil {
		ApplyEnv(cfg, w.lookup)
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
