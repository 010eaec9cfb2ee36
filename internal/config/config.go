package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "BANKCLEANR"

// Config is the validated application configuration.
type Config struct {
	Logging  LoggingConfig
	Server   ServerConfig
	Database DatabaseConfig
	Mock     MockConfig
	Poll     PollConfig
	Rules    RulesConfig
}

// ServerConfig locates the job service.
type ServerConfig struct {
	BaseURL string
	// CAFile is a PEM bundle to trust instead of the system roots.
	CAFile  string
	Timeout time.Duration
}

// PollConfig controls status polling. A zero MaxWait polls without bound.
type PollConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// RulesConfig controls the rule cache.
type RulesConfig struct {
	RetryAttempts int
}

// DatabaseConfig locates the local job journal.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// MockConfig configures the fake job service.
type MockConfig struct {
	Addr string
	// TLSDir holds the generated certificate. Empty serves plain HTTP.
	TLSDir          string
	SigningSecret   string
	LinkTTL         time.Duration
	ProcessingPolls int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("poll.max_wait", 15*time.Minute)
	v.SetDefault("rules.retry_attempts", 3)
	v.SetDefault("database.path", filepath.Join("~", ".local", "share", "bankcleanr", "jobs.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("mock.addr", ":8000")
	v.SetDefault("mock.signing_secret", "")
	v.SetDefault("mock.tls_dir", "")
	v.SetDefault("server.ca_file", "")
	v.SetDefault("mock.link_ttl", 15*time.Minute)
	v.SetDefault("mock.processing_polls", 2)
	v.SetDefault("export.sheets.spreadsheet_name", "")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BaseURL: strings.TrimSpace(v.GetString("server.base_url")),
			CAFile:  ExpandPath(v.GetString("server.ca_file")),
			Timeout: v.GetDuration("server.timeout"),
		},
		Poll: PollConfig{
			Interval: v.GetDuration("poll.interval"),
			MaxWait:  v.GetDuration("poll.max_wait"),
		},
		Rules: RulesConfig{
			RetryAttempts: v.GetInt("rules.retry_attempts"),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Mock: MockConfig{
			Addr:            v.GetString("mock.addr"),
			TLSDir:          ExpandPath(v.GetString("mock.tls_dir")),
			SigningSecret:   v.GetString("mock.signing_secret"),
			LinkTTL:         v.GetDuration("mock.link_ttl"),
			ProcessingPolls: v.GetInt("mock.processing_polls"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return invalid("server.base_url", "must be set")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("server.base_url", fmt.Sprintf("%q is not an http(s) url", c.Server.BaseURL))
	}
	if c.Server.Timeout < 0 {
		return invalid("server.timeout", "cannot be negative")
	}
	if c.Poll.Interval <= 0 {
		return invalid("poll.interval", "must be positive")
	}
	if c.Poll.MaxWait < 0 {
		return invalid("poll.max_wait", "cannot be negative")
	}
	if c.Rules.RetryAttempts < 1 {
		return invalid("rules.retry_attempts", "must be at least 1")
	}
	if c.Database.Path == "" {
		return invalid("database.path", "must be set")
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	if c.Mock.ProcessingPolls < 0 {
		return invalid("mock.processing_polls", "cannot be negative")
	}
	return nil
}

func invalid(key, msg string) error {
	return fmt.Errorf("%w: %s %s", common.ErrInvalidConfig, key, msg)
}
