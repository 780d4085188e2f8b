// Package config handles yfeed configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Wire protocol modes for the live channel.
const (
	ProtocolAuto     = "auto"
	ProtocolTagged   = "tagged"
	ProtocolUntagged = "untagged"
)

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// MaxReconnectDelay bounds reconnect.min_delay and reconnect.max_delay.
const MaxReconnectDelay = 24 * time.Hour

// LiveFeedPath is where the push channel lives relative to the websocket base.
const LiveFeedPath = "/api/ws/feed"

// Config is the root configuration structure.
type Config struct {
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Reconnect ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
	Backfill  BackfillConfig  `yaml:"backfill" mapstructure:"backfill"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	TUI       TUIConfig       `yaml:"tui" mapstructure:"tui"`
}

// FeedConfig describes where the feed comes from and how big the window is.
type FeedConfig struct {
	// BaseURL hosts the backfill endpoint (<base>/recent-posts).
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// WSURL is the live channel URL. Derived from BaseURL when empty.
	WSURL string `yaml:"ws_url" mapstructure:"ws_url"`

	// Capacity bounds the window (N).
	Capacity int `yaml:"capacity" mapstructure:"capacity"`

	// Protocol pins the frame shape: auto, tagged, untagged.
	Protocol string `yaml:"protocol" mapstructure:"protocol"`

	// Filter is an optional CEL expression posts must satisfy.
	Filter string `yaml:"filter" mapstructure:"filter"`
}

// ReconnectConfig controls the live channel retry policy.
type ReconnectConfig struct {
	// Policy is fixed or exponential.
	Policy string `yaml:"policy" mapstructure:"policy"`

	// MinDelay is the fixed delay, or the first exponential delay.
	MinDelay time.Duration `yaml:"min_delay" mapstructure:"min_delay"`

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// BackfillConfig controls the one-shot history fetch.
type BackfillConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// ResyncAfter re-runs backfill when the channel re-opens after being down
	// at least this long. Zero disables.
	ResyncAfter time.Duration `yaml:"resync_after" mapstructure:"resync_after"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ServerConfig configures ynotd.
type ServerConfig struct {
	Addr   string `yaml:"addr" mapstructure:"addr"`
	DBPath string `yaml:"db_path" mapstructure:"db_path"`

	// FrameFormat is tagged or untagged; clients may override per connection.
	FrameFormat string `yaml:"frame_format" mapstructure:"frame_format"`

	// PostRate limits POST /posts per second (burst is twice the rate).
	PostRate float64 `yaml:"post_rate" mapstructure:"post_rate"`

	// RedisAddr enables cross-instance fan-out when set.
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, high-contrast).
	Theme string `yaml:"theme" mapstructure:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Feed: FeedConfig{
			BaseURL:  "http://127.0.0.1:8000",
			Capacity: 10,
			Protocol: ProtocolAuto,
		},
		Reconnect: ReconnectConfig{
			Policy:   PolicyExponential,
			MinDelay: time.Second,
			MaxDelay: 30 * time.Second,
		},
		Backfill: BackfillConfig{
			Timeout:     10 * time.Second,
			ResyncAfter: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8000",
			DBPath:      filepath.Join(homeDir, ".local", "share", "yfeed", "ynotd.db"),
			FrameFormat: ProtocolTagged,
			PostRate:    5,
		},
		TUI: TUIConfig{
			Theme: "default",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Feed.Capacity < 0 {
		return fmt.Errorf("feed.capacity must not be negative")
	}
	if _, err := url.Parse(c.Feed.BaseURL); err != nil || strings.TrimSpace(c.Feed.BaseURL) == "" {
		return fmt.Errorf("feed.base_url must be a valid URL")
	}

	switch c.Feed.Protocol {
	case ProtocolAuto, ProtocolTagged, ProtocolUntagged:
	default:
		return fmt.Errorf("feed.protocol must be one of auto, tagged, untagged")
	}

	switch c.Reconnect.Policy {
	case PolicyFixed, PolicyExponential:
	default:
		return fmt.Errorf("reconnect.policy must be fixed or exponential")
	}
	if c.Reconnect.MinDelay <= 0 {
		return fmt.Errorf("reconnect.min_delay must be positive")
	}
	if c.Reconnect.Policy == PolicyExponential && c.Reconnect.MaxDelay < c.Reconnect.MinDelay {
		return fmt.Errorf("reconnect.max_delay must be at least reconnect.min_delay")
	}
	if c.Reconnect.MinDelay > MaxReconnectDelay || c.Reconnect.MaxDelay > MaxReconnectDelay {
		return fmt.Errorf("reconnect delays must not exceed %s", MaxReconnectDelay)
	}

	if c.Backfill.Timeout <= 0 {
		return fmt.Errorf("backfill.timeout must be positive")
	}
	if c.Backfill.ResyncAfter < 0 {
		return fmt.Errorf("backfill.resync_after must not be negative")
	}

	switch c.Server.FrameFormat {
	case ProtocolTagged, ProtocolUntagged:
	default:
		return fmt.Errorf("server.frame_format must be tagged or untagged")
	}
	if c.Server.PostRate < 0 {
		return fmt.Errorf("server.post_rate must not be negative")
	}

	return nil
}

// LiveURL returns the websocket URL for the live channel.
func (c *Config) LiveURL() (string, error) {
	if ws := strings.TrimSpace(c.Feed.WSURL); ws != "" {
		return ws, nil
	}
	u, err := url.Parse(strings.TrimSpace(c.Feed.BaseURL))
	if err != nil {
		return "", fmt.Errorf("parse feed.base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported feed.base_url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + LiveFeedPath
	u.RawQuery = ""
	return u.String(), nil
}

// EnsureDataDir creates the directory holding the server database.
func (c *Config) EnsureDataDir() error {
	dir := filepath.Dir(c.Server.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
