// Package config loads the manager's TOML configuration and fills in
// the defaults that make a bare config file workable.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/craquehouse/vintagestory-server-sub000/internal/installer"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logbuf"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logger"
	"github.com/craquehouse/vintagestory-server-sub000/internal/process"
)

// Default upstream endpoints for official release and mod metadata.
const (
	DefaultAPIBase     = "https://api.vintagestory.at"
	DefaultCDNBase     = "https://cdn.vintagestory.at/gamefiles"
	DefaultModDBBase   = "https://mods.vintagestory.at/api"
	DefaultListen      = "127.0.0.1:4850"
	DefaultModCacheTTL = 15 * time.Minute
)

// ReleaseConfig points at the version manifest and artifact hosts.
type ReleaseConfig struct {
	APIBase string `toml:"api_base" mapstructure:"api_base"`
	CDNBase string `toml:"cdn_base" mapstructure:"cdn_base"`
}

// InstallConfig tunes archive handling.
type InstallConfig struct {
	// PrefixDigits is the minimum length of a leading all-digit archive
	// path segment that gets stripped during extraction.
	PrefixDigits int `toml:"prefix_digits" mapstructure:"prefix_digits"`
}

// ConsoleConfig sizes the in-memory console ring.
type ConsoleConfig struct {
	BufferLines int `toml:"buffer_lines" mapstructure:"buffer_lines"`
}

// ProcessConfig tunes the child process lifecycle.
type ProcessConfig struct {
	// Command overrides the default dotnet invocation.
	Command     []string      `toml:"command" mapstructure:"command"`
	StopTimeout time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

// AuthConfig guards the HTTP API. With Enabled false every endpoint is
// open; intended only for loopback listeners.
type AuthConfig struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
	Username  string        `toml:"username" mapstructure:"username"`
	Password  string        `toml:"password" mapstructure:"password"`
}

// HTTPConfig describes the API listener.
type HTTPConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	Auth     AuthConfig `toml:"auth" mapstructure:"auth"`
}

// ModsConfig points at the mod catalog and controls its cache.
type ModsConfig struct {
	APIBase  string        `toml:"api_base" mapstructure:"api_base"`
	CacheTTL time.Duration `toml:"cache_ttl" mapstructure:"cache_ttl"`
	// RefreshSchedule is a cron expression for background catalog
	// refreshes; empty disables them.
	RefreshSchedule string `toml:"refresh_schedule" mapstructure:"refresh_schedule"`
}

// HistoryConfig controls the lifecycle event store. An empty Path puts
// the database under the manager bookkeeping directory.
type HistoryConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

// Config is the top-level TOML structure.
type Config struct {
	// Root is the managed directory holding server/, data/ and the
	// manager's bookkeeping. Required.
	Root string `toml:"root" mapstructure:"root"`

	Log      logger.Config  `toml:"log" mapstructure:"log"`
	HTTP     HTTPConfig     `toml:"http" mapstructure:"http"`
	Releases ReleaseConfig  `toml:"releases" mapstructure:"releases"`
	Install  InstallConfig  `toml:"install" mapstructure:"install"`
	Console  ConsoleConfig  `toml:"console" mapstructure:"console"`
	Process  ProcessConfig  `toml:"process" mapstructure:"process"`
	Mods     ModsConfig     `toml:"mods" mapstructure:"mods"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
}

// Load reads a TOML config file and applies defaults and validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Releases.APIBase == "" {
		c.Releases.APIBase = DefaultAPIBase
	}
	if c.Releases.CDNBase == "" {
		c.Releases.CDNBase = DefaultCDNBase
	}
	if c.Install.PrefixDigits <= 0 {
		c.Install.PrefixDigits = installer.DefaultPrefixDigits
	}
	if c.Console.BufferLines <= 0 {
		c.Console.BufferLines = logbuf.DefaultCapacity
	}
	if c.Process.StopTimeout <= 0 {
		c.Process.StopTimeout = process.DefaultStopTimeout
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}
	if c.Mods.APIBase == "" {
		c.Mods.APIBase = DefaultModDBBase
	}
	if c.Mods.CacheTTL <= 0 {
		c.Mods.CacheTTL = DefaultModCacheTTL
	}
	if c.HTTP.Auth.TokenTTL <= 0 {
		c.HTTP.Auth.TokenTTL = 24 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root is required")
	}
	if c.HTTP.Auth.Enabled {
		if c.HTTP.Auth.JWTSecret == "" {
			return fmt.Errorf("config: http.auth.jwt_secret is required when auth is enabled")
		}
		if c.HTTP.Auth.Username == "" || c.HTTP.Auth.Password == "" {
			return fmt.Errorf("config: http.auth username and password are required when auth is enabled")
		}
	}
	return nil
}
