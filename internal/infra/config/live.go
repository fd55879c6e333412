package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Live holds the most recently loaded config. When backed by a file it follows
// edits to that file, so downloads started later pick up the new options.
type Live struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
	onError func(error)
}

// Watch loads the config like Load and keeps it updated while the file changes.
// onError receives reload failures; the previous config stays active in that case.
func Watch(path string, onError func(error)) (*Live, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	v := newViper(resolved)
	cfg, err := read(v, resolved)
	if err != nil {
		return nil, err
	}

	l := newLive(v, cfg, onError)

	if resolved != "" {
		v.OnConfigChange(func(fsnotify.Event) { l.reload() })
		v.WatchConfig()
	}

	return l, nil
}

func newLive(v *viper.Viper, cfg *Config, onError func(error)) *Live {
	l := &Live{v: v, onError: onError}
	l.current.Store(cfg)
	return l
}

// Static wraps an already loaded config without watching anything.
func Static(cfg *Config) *Live {
	l := &Live{}
	l.current.Store(cfg)
	return l
}

func (l *Live) reload() {
	cfg, err := decode(l.v)
	if err != nil {
		if l.onError != nil {
			l.onError(err)
		}
		return
	}
	l.current.Store(cfg)
}

// Config returns the active config. Callers must treat it as read-only.
func (l *Live) Config() *Config {
	return l.current.Load()
}

// DownloadOptions returns a copy of the active downloader options.
func (l *Live) DownloadOptions() DownloadOptions {
	opts := l.current.Load().Download.Options
	opts.ExtraArgs = append([]string(nil), opts.ExtraArgs...)
	return opts
}
