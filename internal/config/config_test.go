package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.History.MaxMessages)
	assert.Equal(t, ":5000", cfg.Server.ListenAddr)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
listenAddr = ":9000"
clientURL = "https://chat.example"

[history]
maxMessages = 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("HISTORY_MAX_MESSAGES", "12")
	t.Setenv("READ_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "https://chat.example", cfg.Server.ClientURL)
	assert.Equal(t, 12, cfg.History.MaxMessages, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 1024, cfg.History.RouteIndexSize, "untouched defaults survive")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().History, cfg.History)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "many")
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestPortEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"zero history", func(c *Config) { c.History.MaxMessages = 0 }},
		{"zero queue", func(c *Config) { c.Server.SendQueueSize = 0 }},
		{"negative window", func(c *Config) { c.RateLimit.ReactWindow = -time.Second }},
		{"frame smaller than max file", func(c *Config) {
			c.Limits.MaxFileBytes = 48 << 20
			c.Server.MaxFrameBytes = 50 << 20
		}},
		{"frame smaller than blob", func(c *Config) { c.Server.MaxFrameBytes = 64 << 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRequiredFrameBytes(t *testing.T) {
	l := LimitsConfig{MaxTextChars: 10, MaxBlobBytes: 10, MaxFileBytes: 3 << 20}
	// 3 MiB of file is 4 MiB of base64, twice for the reply snapshot.
	assert.Equal(t, int64(8<<20+envelopeOverhead), l.RequiredFrameBytes())

	l = LimitsConfig{MaxTextChars: 100000, MaxBlobBytes: 10, MaxFileBytes: 3}
	assert.Equal(t, int64(2*600000+envelopeOverhead), l.RequiredFrameBytes())
}

func TestDefaultFrameCarriesLargestFile(t *testing.T) {
	cfg := Default()
	assert.GreaterOrEqual(t, cfg.Server.MaxFrameBytes, cfg.Limits.RequiredFrameBytes())

	// A 40 MiB file encodes to a frame past the old 50 MiB limit.
	cfg.Limits.MaxFileBytes = 40 << 20
	assert.ErrorContains(t, cfg.Validate(), "maxFrameBytes")

	cfg.Server.MaxFrameBytes = cfg.Limits.RequiredFrameBytes()
	assert.NoError(t, cfg.Validate())
}
