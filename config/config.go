// Package config loads per-plugin TOML configuration and caches the
// sync_call_in_handler safety policy against the config file's
// modification time, mirroring _get_sync_call_in_handler_policy in the
// system this bus replaces.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Policy is the sync_call_in_handler enforcement mode.
type Policy string

const (
	PolicyWarn   Policy = "warn"
	PolicyReject Policy = "reject"
)

// FastPush holds the low-latency push tuning knobs (spec §6.4).
type FastPush struct {
	BatchSize          int    `toml:"batch_size"`
	FlushIntervalMs    int    `toml:"flush_interval_ms"`
	SyncTimeoutSeconds int    `toml:"sync_timeout_seconds"`
	Endpoint           string `toml:"endpoint"`
}

// PluginConfig is the parsed shape of a plugin's TOML config file.
type PluginConfig struct {
	SyncCallInHandler string   `toml:"sync_call_in_handler"`
	KVStoreEnabled    bool     `toml:"kvstore_enabled"`
	FastPush          FastPush `toml:"fast_push"`
}

func defaultConfig() PluginConfig {
	return PluginConfig{
		SyncCallInHandler: string(PolicyWarn),
		KVStoreEnabled:    true,
		FastPush: FastPush{
			BatchSize:          32,
			FlushIntervalMs:    50,
			SyncTimeoutSeconds: 5,
		},
	}
}

// Loader reads and caches a plugin's config file, re-parsing only when the
// file's mtime changes (spec §9: re-stat is cheap relative to the IPC
// round trip it guards, closer to the original behavior than a wall-clock
// TTL substitute).
type Loader struct {
	path string

	mu       sync.Mutex
	cached   PluginConfig
	cachedAt time.Time
	loaded   bool
}

// NewLoader creates a loader for the config file at path. The file need
// not exist yet; Get falls back to defaultConfig until it does.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Get returns the current config, reloading from disk if the file's mtime
// has advanced since the last read.
func (l *Loader) Get() PluginConfig {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if !l.loaded {
			l.cached = defaultConfig()
			l.loaded = true
		}
		return l.cached
	}

	if l.loaded && !info.ModTime().After(l.cachedAt) {
		return l.cached
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(l.path, &cfg); err != nil {
		// Keep whatever was previously cached (or defaults) rather than
		// raising — a transient partial write shouldn't break a live call.
		if !l.loaded {
			l.cached = defaultConfig()
			l.loaded = true
		}
		return l.cached
	}

	l.cached = cfg
	l.cachedAt = info.ModTime()
	l.loaded = true
	return l.cached
}

// SyncCallPolicy returns the cached sync_call_in_handler policy.
func (l *Loader) SyncCallPolicy() Policy {
	p := Policy(l.Get().SyncCallInHandler)
	if p != PolicyReject {
		return PolicyWarn
	}
	return PolicyReject
}

// Watch starts an fsnotify watch on the config file's directory, invoking
// onChange whenever the file is rewritten. It returns a stop function.
// Optional: callers that only need Get()'s mtime-cache polling don't need
// this. Errors from fsnotify itself are logged and swallowed — a failed
// watch degrades to polling, it never brings down the plugin.
func (l *Loader) Watch(logger *logrus.Entry, onChange func(PluginConfig)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := l.path
	if idx := lastSlash(dir); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != l.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange(l.Get())
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.WithError(werr).Warn("config watch error")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
