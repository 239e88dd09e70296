// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

// Package config loads library settings from a YAML file and optional
// command-line flags, and applies them to the process-wide cache
// configuration.
package config

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/resourcecache/resourcecache/internal/logging"
	"github.com/resourcecache/resourcecache/pkg/pageable"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

// Settings is the library configuration surface.
type Settings struct {
	// Service names the process in log output.
	Service string `koanf:"service"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// StorageDir roots the on-disk persistent backends. Required before
	// persistent families can be constructed through Apply.
	StorageDir string `koanf:"storage_dir"`

	// SecureKeyFile points at a 32-byte key file for the secure backend.
	SecureKeyFile string `koanf:"secure_key_file"`

	// CacheTTL is a staleness duration callers may pass to
	// cache.WithCacheDuration; Apply does not use it. Zero means no
	// duration is configured: the cache's default policy never expires
	// entries, whereas cache.WithCacheDuration(0) marks an entry stale
	// once a millisecond has passed since it was stored.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// PageSize is the page size pageable coordinators built through
	// NewOffsetPager/NewSizePager request from the origin.
	PageSize int `koanf:"page_size"`
}

func defaults() Settings {
	return Settings{
		Service:   "resourcecache",
		LogFormat: "json",
		LogLevel:  "info",
		PageSize:  25,
	}
}

// Load reads settings from the YAML file at path. An empty path returns
// the built-in defaults.
func Load(path string) (*Settings, error) {
	return load(path, nil)
}

// LoadWithFlags reads settings from the YAML file at path, then overlays
// values bound to the given flag set (flag names match koanf keys).
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Settings, error) {
	return load(path, flags)
}

func load(path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	settings := defaults()
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return &settings, nil
}

// Logger builds a slog logger from the settings. A nil w writes to stderr.
func (s *Settings) Logger(w io.Writer) *slog.Logger {
	return logging.Setup(s.Service, s.LogFormat, s.level(), w)
}

func (s *Settings) level() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Apply wires the settings into the process-wide cache configuration:
// the logger, a file-backed persistent factory rooted at StorageDir, and,
// when a key file is configured, an encrypting secure factory layered over
// it.
func (s *Settings) Apply() error {
	cfg := storage.Config{Logger: s.Logger(nil)}

	if s.StorageDir != "" {
		cfg.PersistentFactory = storage.FileFactory(s.StorageDir)
	}

	if s.SecureKeyFile != "" {
		if s.StorageDir == "" {
			return oops.Code("CONFIGURATION_MISSING").
				With("setting", "storage_dir").
				Errorf("secure storage requires storage_dir")
		}
		key, err := os.ReadFile(s.SecureKeyFile)
		if err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").
				With("path", s.SecureKeyFile).
				Wrap(err)
		}
		cfg.SecureFactory = storage.SecureFactory(cfg.PersistentFactory, key)
	}

	storage.Configure(cfg)
	return nil
}

// NewOffsetPager builds an offset-paging coordinator sized from the
// settings. Methods cannot carry type parameters, so the pager
// constructors take the settings as their first argument.
func NewOffsetPager[K comparable, V comparable](s *Settings, family string, load pageable.LoadPageByOffset[K, V], intersectionCount int, opts ...pageable.OffsetOption[K, V]) (*pageable.OffsetCoordinator[K, V], error) {
	return pageable.NewOffset(family, load, s.PageSize, intersectionCount, opts...)
}

// NewSizePager builds a page+size coordinator sized from the settings.
func NewSizePager[K comparable, V comparable, M any](s *Settings, family string, load pageable.LoadPageBySize[K, V, M], opts ...pageable.SizeOption[K, V, M]) (*pageable.SizeCoordinator[K, V, M], error) {
	return pageable.NewSize(family, load, s.PageSize, opts...)
}
