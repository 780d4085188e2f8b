package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Feed.Capacity)
	assert.Equal(t, ProtocolAuto, cfg.Feed.Protocol)
	assert.Equal(t, PolicyExponential, cfg.Reconnect.Policy)
	assert.Equal(t, time.Second, cfg.Reconnect.MinDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, ProtocolTagged, cfg.Server.FrameFormat)
}

func TestLoadFilePrecedence(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "yfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  base_url: https://y.example
  capacity: 3
  protocol: tagged
reconnect:
  policy: fixed
  min_delay: 250ms
logging:
  file: ~/logs/yfeed.log
`), 0o644))

	t.Setenv("YFEED_FEED_CAPACITY", "5")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://y.example", cfg.Feed.BaseURL)
	assert.Equal(t, 5, cfg.Feed.Capacity, "env beats file")
	assert.Equal(t, ProtocolTagged, cfg.Feed.Protocol)
	assert.Equal(t, PolicyFixed, cfg.Reconnect.Policy)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.MinDelay)
	assert.Equal(t, filepath.Join(home, "logs", "yfeed.log"), cfg.Logging.File)
}

func TestLoadFlagsWinOnlyWhenSet(t *testing.T) {
	isolate(t)
	t.Setenv("YFEED_FEED_PROTOCOL", "untagged")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("capacity", 10, "")
	flags.String("protocol", "auto", "")
	require.NoError(t, flags.Parse([]string{"--capacity", "2"}))

	loader := NewLoader()
	loader.BindFlag("feed.capacity", flags.Lookup("capacity"))
	loader.BindFlag("feed.protocol", flags.Lookup("protocol"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Feed.Capacity)
	assert.Equal(t, ProtocolUntagged, cfg.Feed.Protocol)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative capacity", func(c *Config) { c.Feed.Capacity = -1 }},
		{"unknown protocol", func(c *Config) { c.Feed.Protocol = "v3" }},
		{"unknown policy", func(c *Config) { c.Reconnect.Policy = "linear" }},
		{"zero delay", func(c *Config) { c.Reconnect.MinDelay = 0 }},
		{"inverted delays", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }},
		{"max delay too long", func(c *Config) { c.Reconnect.MaxDelay = 48 * time.Hour }},
		{"min delay too long", func(c *Config) {
			c.Reconnect.MinDelay = 25 * time.Hour
			c.Reconnect.MaxDelay = 30 * time.Hour
		}},
		{"zero backfill timeout", func(c *Config) { c.Backfill.Timeout = 0 }},
		{"bad frame format", func(c *Config) { c.Server.FrameFormat = "auto" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Feed.Capacity = 0
	require.NoError(t, cfg.Validate())
}

func TestLiveURL(t *testing.T) {
	tests := []struct {
		base string
		ws   string
		want string
	}{
		{base: "http://127.0.0.1:8000", want: "ws://127.0.0.1:8000/api/ws/feed"},
		{base: "https://y.example/app/", want: "wss://y.example/app/api/ws/feed"},
		{base: "http://ignored", ws: "ws://other/feed", want: "ws://other/feed"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Feed.BaseURL = tt.base
		cfg.Feed.WSURL = tt.ws
		got, err := cfg.LiveURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	cfg := DefaultConfig()
	cfg.Feed.BaseURL = "ftp://nope"
	_, err := cfg.LiveURL()
	require.Error(t, err)
}
