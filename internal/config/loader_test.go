package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/typescope/internal/constants"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1<<20, cfg.Limits.MaxReadSize)
	assert.Equal(t, 4096, cfg.Limits.ReadChunkSize)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv(constants.ConfigEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typescope.yaml")
	content := `
limits:
  max_read_size: 65536
  string_scan_chars: 512
cache:
  type_capacity: 16
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TYPESCOPE_TYPE_CACHE_CAPACITY", "32")
	t.Setenv("TYPESCOPE_READ_CHUNK_SIZE", "0x2000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 65536, cfg.Limits.MaxReadSize)
	assert.Equal(t, 512, cfg.Limits.StringScanChars)
	assert.Equal(t, 0x2000, cfg.Limits.ReadChunkSize)
	assert.Equal(t, 32, cfg.Cache.TypeCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, uint64(constants.DefaultMaxSearchRegion), cfg.Limits.MaxSearchRegion)
	assert.Equal(t, constants.DefaultMaxStackFrames, cfg.Stack.MaxFrames)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv(constants.ConfigEnv, "")
	t.Setenv("TYPESCOPE_LOG_PRETTY", "sometimes")

	_, err := Load("")
	assert.ErrorContains(t, err, "TYPESCOPE_LOG_PRETTY")
}

func TestLoad_RejectsInvalidLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  read_chunk_size: 3000\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "read_chunk_size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero read size", mutate: func(c *Config) { c.Limits.MaxReadSize = 0 }, wantErr: "max_read_size"},
		{name: "scan larger than ceiling", mutate: func(c *Config) { c.Limits.StringScanChars = c.Limits.MaxReadSize + 1 }, wantErr: "string_scan_chars"},
		{name: "chunk above read ceiling", mutate: func(c *Config) {
			c.Limits.MaxReadSize = 1000
			c.Limits.StringScanChars = 500
		}, wantErr: "read_chunk_size (4096) exceeds limits.max_read_size (1000)"},
		{name: "empty search region", mutate: func(c *Config) { c.Limits.MaxSearchRegion = 0 }, wantErr: "max_search_region"},
		{name: "zero cache", mutate: func(c *Config) { c.Cache.TypeCapacity = 0 }, wantErr: "type_capacity"},
		{name: "zero frames", mutate: func(c *Config) { c.Stack.MaxFrames = -1 }, wantErr: "max_frames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestMarshalRoundTripsDefaults(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_read_size: 1048576")
}
