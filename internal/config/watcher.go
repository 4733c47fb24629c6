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

// ChangeFunc is called after a changed, valid config file was loaded. d is
// Diff(old, new).
type ChangeFunc func(old, new *Config, d ConfigDiff)

// fileStamp identifies one observed revision of the config file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher keeps the config file and the running configuration in step. It
// polls the file's modification time and size, and [Watcher.Reload] checks
// it on demand (for example on SIGHUP). Invalid edits are logged and
// skipped; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// reloadMu serialises reloads so callbacks observe configs in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds. A
// negative interval disables polling; only [Watcher.Reload] picks up edits.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d != 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger used for reload messages.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and, unless polling is disabled, starts polling it
// in a background goroutine. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	if w.interval > 0 {
		w.wg.Go(func() { w.poll(ctx) })
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling and waits for the poll goroutine to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Reload reads the file now. It reports whether the content changed and the
// change callback ran. A read or validation error leaves the current config
// in place.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, stamp, err := w.read()
	if err != nil {
		return false, fmt.Errorf("config: reload %q: %w", w.path, err)
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp = stamp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	d := Diff(old, cfg)
	w.log.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"verification_changed", d.VerificationChanged,
	)
	if len(d.RestartRequired) > 0 {
		w.log.Warn("config: changes require a restart", "sections", d.RestartRequired)
	}
	// Outside mu so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true, nil
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(w.path)
		if err != nil {
			w.log.Warn("config: cannot stat file", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		seen := w.stamp
		w.mu.Unlock()
		if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
			continue
		}
		if _, err := w.Reload(); err != nil {
			w.log.Warn("config: keeping previous config", "err", err)
			// Do not retry the same broken revision on every tick.
			w.mu.Lock()
			w.stamp.mtime, w.stamp.size = info.ModTime(), info.Size()
			w.mu.Unlock()
		}
	}
}

// read loads, parses and validates the file and stamps the raw bytes.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
