package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gaborage/tunecache/logger"
)

const (
	toggleKey = "cache.enabled"

	// reloadDelay coalesces the truncate and write events of one edit.
	reloadDelay = 50 * time.Millisecond
	// reloadRetries bounds rereads of a file caught empty or mid-write.
	reloadRetries = 5
)

// CacheToggle is the live response-cache switch. It satisfies cache.FlagSource,
// persists changes to the YAML file and picks up edits made to that file.
type CacheToggle struct {
	enabled atomic.Bool
	path    string
	log     logger.Logger

	mu       sync.Mutex // serializes file writes and watcher setup
	watcher  *file.File
	onChange []func(bool)

	timerMu sync.Mutex // guards the pending reload
	timer   *time.Timer
	retries int
	stopped bool
}

// NewCacheToggle returns a toggle starting at initial. An empty path keeps the
// toggle in memory only.
func NewCacheToggle(initial bool, path string, log logger.Logger) *CacheToggle {
	if log == nil {
		log = logger.Nop()
	}
	t := &CacheToggle{path: path, log: log}
	t.enabled.Store(initial)
	return t
}

// CacheEnabled implements cache.FlagSource.
func (t *CacheToggle) CacheEnabled() bool {
	return t.enabled.Load()
}

// OnChange registers fn to run after the value flips.
func (t *CacheToggle) OnChange(fn func(enabled bool)) {
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

// Set updates the flag and writes it back to the config file. The in-memory
// value changes even when persisting fails.
func (t *CacheToggle) Set(enabled bool) error {
	t.apply(enabled)
	if t.path == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := persist(t.path, enabled); err != nil {
		return fmt.Errorf("persist %s: %w", toggleKey, err)
	}
	return nil
}

// Watch reloads the flag whenever the config file changes. Bursts of events
// collapse into one read taken reloadDelay after the last event. It returns
// after the watcher is installed; call Close to stop it.
func (t *CacheToggle) Watch() error {
	if t.path == "" {
		return NewMissingFieldError("cache.file")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watcher != nil {
		return nil
	}

	t.timerMu.Lock()
	t.stopped = false
	t.timerMu.Unlock()

	fp := file.Provider(t.path)
	if err := fp.Watch(func(_ any, err error) {
		if err != nil {
			t.log.Warn().Err(err).Str("file", t.path).Msg("cache toggle watch error")
			return
		}
		t.scheduleReload(false)
	}); err != nil {
		return fmt.Errorf("watch %s: %w", t.path, err)
	}
	t.watcher = fp
	return nil
}

// Close stops watching the config file and drops any pending reload.
func (t *CacheToggle) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timerMu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerMu.Unlock()

	if t.watcher == nil {
		return nil
	}
	err := t.watcher.Unwatch()
	t.watcher = nil
	return err
}

// scheduleReload arms or pushes back the pending reload. A retry keeps the
// attempt count; a fresh event restarts it.
func (t *CacheToggle) scheduleReload(retry bool) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.stopped {
		return
	}
	if !retry {
		t.retries = 0
	} else if t.retries++; t.retries > reloadRetries {
		t.log.Warn().Str("file", t.path).Int("attempts", reloadRetries).Msg("cache toggle reload gave up")
		t.retries = 0
		return
	}

	if t.timer == nil {
		t.timer = time.AfterFunc(reloadDelay, t.fireReload)
		return
	}
	t.timer.Reset(reloadDelay)
}

func (t *CacheToggle) fireReload() {
	if !t.reload() {
		t.scheduleReload(true)
	}
}

// reload reads the flag from disk. It reports false when the file could not
// be read or did not carry the key yet, which an editor mid-save produces.
func (t *CacheToggle) reload() bool {
	k := koanf.New(".")
	if err := k.Load(file.Provider(t.path), yaml.Parser()); err != nil {
		t.log.Debug().Err(err).Str("file", t.path).Msg("cache toggle reload failed")
		return false
	}
	if !k.Exists(toggleKey) {
		return false
	}
	t.apply(k.Bool(toggleKey))
	return true
}

func (t *CacheToggle) apply(enabled bool) {
	if t.enabled.Swap(enabled) == enabled {
		return
	}
	t.log.Info().Bool("enabled", enabled).Msg("response cache toggled")

	t.mu.Lock()
	hooks := append(([]func(bool))(nil), t.onChange...)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(enabled)
	}
}

// persist rewrites path with cache.enabled set, keeping every other key.
func persist(path string, enabled bool) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := k.Set(toggleKey, enabled); err != nil {
		return err
	}

	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tunecache-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
