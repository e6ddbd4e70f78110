// Package config holds the session configuration: memory access limits,
// cache sizes, stack walking bounds and logging.
package config

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/typescope/internal/constants"
)

// Config is the root configuration.
type Config struct {
	Limits  LimitsConfig  `yaml:"limits"`
	Cache   CacheConfig   `yaml:"cache"`
	Stack   StackConfig   `yaml:"stack"`
	Logging LoggingConfig `yaml:"logging"`
}

// LimitsConfig bounds every read and search issued against the target.
type LimitsConfig struct {
	// MaxReadSize is the hard ceiling, in bytes, for one raw read. String
	// reads are bounded by MaxReadSize / charSize characters.
	MaxReadSize int `yaml:"max_read_size" env:"TYPESCOPE_MAX_READ_SIZE"`

	// StringScanChars caps a string read issued without an explicit length.
	StringScanChars int `yaml:"string_scan_chars" env:"TYPESCOPE_STRING_SCAN_CHARS"`

	// ReadChunkSize is the page size used for chunked scans. Power of two.
	ReadChunkSize int `yaml:"read_chunk_size" env:"TYPESCOPE_READ_CHUNK_SIZE"`

	// MaxSearchRegion bounds the length of one memory search.
	MaxSearchRegion uint64 `yaml:"max_search_region" env:"TYPESCOPE_MAX_SEARCH_REGION"`
}

// CacheConfig sizes the symbol resolver caches.
type CacheConfig struct {
	TypeCapacity int `yaml:"type_capacity" env:"TYPESCOPE_TYPE_CACHE_CAPACITY"`
}

// StackConfig bounds stack walks performed by engine adapters.
type StackConfig struct {
	MaxFrames int `yaml:"max_frames" env:"TYPESCOPE_MAX_STACK_FRAMES"`
}

// LoggingConfig configures the session logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"TYPESCOPE_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"TYPESCOPE_LOG_PRETTY"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxReadSize:     constants.DefaultMaxReadSize,
			StringScanChars: constants.DefaultStringScanChars,
			ReadChunkSize:   constants.DefaultReadChunkSize,
			MaxSearchRegion: constants.DefaultMaxSearchRegion,
		},
		Cache: CacheConfig{
			TypeCapacity: constants.DefaultTypeCacheCapacity,
		},
		Stack: StackConfig{
			MaxFrames: constants.DefaultMaxStackFrames,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	var errs []error

	l := c.Limits
	if l.MaxReadSize <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_read_size must be positive, got %d", l.MaxReadSize))
	}
	if l.StringScanChars <= 0 {
		errs = append(errs, fmt.Errorf("limits.string_scan_chars must be positive, got %d", l.StringScanChars))
	}
	if l.MaxReadSize > 0 && l.StringScanChars > l.MaxReadSize {
		errs = append(errs, fmt.Errorf("limits.string_scan_chars (%d) exceeds limits.max_read_size (%d)",
			l.StringScanChars, l.MaxReadSize))
	}
	if l.ReadChunkSize <= 0 || l.ReadChunkSize&(l.ReadChunkSize-1) != 0 {
		errs = append(errs, fmt.Errorf("limits.read_chunk_size must be a positive power of two, got %d", l.ReadChunkSize))
	}
	if l.MaxReadSize > 0 && l.ReadChunkSize > l.MaxReadSize {
		errs = append(errs, fmt.Errorf("limits.read_chunk_size (%d) exceeds limits.max_read_size (%d)",
			l.ReadChunkSize, l.MaxReadSize))
	}
	if l.MaxSearchRegion == 0 {
		errs = append(errs, errors.New("limits.max_search_region must be positive"))
	}
	if c.Cache.TypeCapacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.type_capacity must be positive, got %d", c.Cache.TypeCapacity))
	}
	if c.Stack.MaxFrames <= 0 {
		errs = append(errs, fmt.Errorf("stack.max_frames must be positive, got %d", c.Stack.MaxFrames))
	}

	return errors.Join(errs...)
}
