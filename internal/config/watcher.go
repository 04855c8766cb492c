package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk and hands the
// previous and new config to a callback.
//
// The parent directory is watched rather than the file itself, so atomic
// replacements (write to temp, rename over) and Kubernetes ConfigMap symlink
// swaps are seen. Bursts of events are coalesced by a debounce timer. A
// reload that fails to parse or validate is reported and the current config
// is kept. Edits that change nothing [Diff] looks at (comments, formatting,
// reordered keys) update the current config without calling back.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	fw       *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must be quiet before it is reloaded.
// Default: 250ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithErrorHandler sets a callback for reload failures. The default logs
// them at warn level.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.onError = fn
		}
	}
}

// NewWatcher loads the config at path and starts watching it. onChange may
// be nil, in which case the watcher only keeps [Watcher.Current] fresh.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	w := &Watcher{
		path:     abs,
		debounce: 250 * time.Millisecond,
		onChange: onChange,
		onError: func(err error) {
			slog.Warn("config watcher: reload rejected", "path", abs, "err", err)
		},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, digest, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.digest = digest

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %q: %w", filepath.Dir(abs), err)
	}
	w.fw = fw

	go w.loop()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops watching and waits for the event loop to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		<-w.stopped
		w.fw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if w.relevant(evt) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config: watcher: %w", err))
		case <-timer.C:
			w.reload()
		}
	}
}

// relevant reports whether evt may have changed the watched file's content.
// Events on "..data" cover ConfigMap mounts, where the file is a symlink
// into a directory that is swapped atomically.
func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(evt.Name)
	return name == w.path || filepath.Base(name) == "..data"
}

func (w *Watcher) reload() {
	cfg, digest, err := w.read()
	if err != nil {
		if os.IsNotExist(err) {
			// Mid-replace; the Create that follows triggers another reload.
			return
		}
		w.onError(err)
		return
	}

	w.mu.Lock()
	if digest == w.digest {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.digest = digest
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effective changes", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"scoring", d.ScoringChanged,
		"inbox_profile", d.InboxProfileChanged,
		"restart_required", d.RestartRequired,
	)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and validates the file, returning it with a digest of the raw
// bytes.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Truncated mid-write, or cleared by mistake.
		return nil, [sha256.Size]byte{}, errors.New("config: file is empty")
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
