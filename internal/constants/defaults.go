// Package constants defines shared configuration constants and defaults.
package constants

// Config file and environment.
const (
	// ConfigEnv names the environment variable holding a config file path.
	ConfigEnv = "TYPESCOPE_CONFIG"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TYPESCOPE_"
)

// Memory access limits.
const (
	// DefaultMaxReadSize is the hard ceiling for a single raw read (1 MiB).
	// String requests are bounded by DefaultMaxReadSize / charSize characters.
	DefaultMaxReadSize = 1 << 20

	// DefaultStringScanChars caps how far a string read without an explicit
	// length scans for a terminator.
	DefaultStringScanChars = 8192

	// DefaultReadChunkSize is the page granularity used for chunked scans.
	DefaultReadChunkSize = 4096

	// DefaultMaxSearchRegion bounds a single memory search (256 MiB).
	DefaultMaxSearchRegion = 256 << 20
)

// Caches and walking.
const (
	// DefaultTypeCacheCapacity bounds the resolved type descriptor cache.
	DefaultTypeCacheCapacity = 1024

	// DefaultMaxStackFrames bounds frame-pointer stack walks.
	DefaultMaxStackFrames = 1024
)

// Object naming.
const (
	// UnnamedObject is the name given to objects created without one.
	UnnamedObject = "<unnamed>"

	// ArrayElementName is the name given to array and pointer elements.
	ArrayElementName = "<arr-elem>"
)
