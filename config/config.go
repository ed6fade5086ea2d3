// Package config loads CLI and service configuration from a YAML file and
// RW_-prefixed environment variables, env winning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Resource ResourceConfig `koanf:"resource"`
	Cache    CacheConfig    `koanf:"cache"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ResourceConfig struct {
	// ExpirationTime is how long loaded data stays fresh, e.g. "30s".
	ExpirationTime string `koanf:"expiration_time"`

	// RetryTime is how long to wait after a failure before retrying.
	RetryTime string `koanf:"retry_time"`

	// Timeout bounds a single transport round trip.
	Timeout string `koanf:"timeout"`
}

type CacheConfig struct {
	Type    string        `koanf:"type"` // sqlite, leveldb, memory, none
	SQLite  SQLiteConfig  `koanf:"sqlite"`
	LevelDB LevelDBConfig `koanf:"leveldb"`
	Memory  MemoryConfig  `koanf:"memory"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type LevelDBConfig struct {
	Path string `koanf:"path"`
}

type MemoryConfig struct {
	Size int `koanf:"size"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// Load reads path (when non-empty) and then overlays RW_ environment
// variables, so RW_CACHE_TYPE=leveldb overrides cache.type.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("RW_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "RW_")), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("resource.expiration_time") {
		k.Set("resource.expiration_time", "30s")
	}
	if !k.Exists("resource.retry_time") {
		k.Set("resource.retry_time", "1s")
	}
	if !k.Exists("resource.timeout") {
		k.Set("resource.timeout", "30s")
	}
	if !k.Exists("cache.type") {
		k.Set("cache.type", "memory")
	}
	if !k.Exists("cache.memory.size") {
		k.Set("cache.memory.size", 256)
	}
	if !k.Exists("cache.sqlite.path") {
		k.Set("cache.sqlite.path", "./data/restward.db")
	}
	if !k.Exists("cache.leveldb.path") {
		k.Set("cache.leveldb.path", "./data/leveldb")
	}
	if !k.Exists("logging.level") {
		k.Set("logging.level", "info")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpirationTimeDuration parses the configured freshness window.
func (c ResourceConfig) ExpirationTimeDuration() (time.Duration, error) {
	return parseDuration("resource.expiration_time", c.ExpirationTime)
}

// RetryTimeDuration parses the configured retry window.
func (c ResourceConfig) RetryTimeDuration() (time.Duration, error) {
	return parseDuration("resource.retry_time", c.RetryTime)
}

// TimeoutDuration parses the configured transport timeout.
func (c ResourceConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("resource.timeout", c.Timeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return d, nil
}

// Exists reports whether path points at a readable file. The CLI uses it to
// skip the file provider for missing optional configs.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
