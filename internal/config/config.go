// ABOUTME: Configuration loading and parsing for cardea-console
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config represents the complete cardea-console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Send      SendConfig      `yaml:"send" toml:"send"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	RBAC      RBACConfig      `yaml:"rbac" toml:"rbac"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
}

// ServerConfig locates the controller
type ServerConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	AnonPath  string `yaml:"anon_path" toml:"anon_path"`
	AdminPath string `yaml:"admin_path" toml:"admin_path"`

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
}

// SessionConfig holds session cookie and timing configuration
type SessionConfig struct {
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`

	SettleDelay    time.Duration `yaml:"-" toml:"-"`
	DefaultTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SettleDelayRaw    string `yaml:"settle_delay" toml:"settle_delay"`
	DefaultTimeoutRaw string `yaml:"default_timeout" toml:"default_timeout"`
}

// ReconnectConfig bounds channel redials. MaxAttempts 0 means unlimited.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	MaxBackoff    time.Duration `yaml:"-" toml:"-"`
	MaxBackoffRaw string        `yaml:"max_backoff" toml:"max_backoff"`
}

// SendConfig bounds outbound send retries
type SendConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	MaxBackoff    time.Duration `yaml:"-" toml:"-"`
	MaxBackoffRaw string        `yaml:"max_backoff" toml:"max_backoff"`
}

// StorageConfig holds the persisted client state location
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RBACConfig points at an optional role rules file
type RBACConfig struct {
	RulesPath string `yaml:"rules_path" toml:"rules_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// Default returns a fully populated configuration. Only server.base_url is
// left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AnonPath:        "/api/anon/ws",
			AdminPath:       "/api/admin/ws",
			WriteTimeout:    5 * time.Second,
			WriteTimeoutRaw: "5s",
		},
		Session: SessionConfig{
			CookieName:        "sessionId",
			SettleDelay:       time.Second,
			SettleDelayRaw:    "1s",
			DefaultTimeout:    60 * time.Minute,
			DefaultTimeoutRaw: "60m",
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:   10,
			MaxBackoff:    30 * time.Second,
			MaxBackoffRaw: "30s",
		},
		Send: SendConfig{
			MaxAttempts:   50,
			MaxBackoff:    2 * time.Second,
			MaxBackoffRaw: "2s",
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tailscale: TailscaleConfig{
			Hostname:  "cardea-console",
			Ephemeral: true,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset keys keep their Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("%w: server.base_url is required", ErrInvalid)
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: server.base_url is not a valid URL: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: server.base_url must use http or https scheme", ErrInvalid)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server.base_url has no host", ErrInvalid)
	}

	if !strings.HasPrefix(c.Server.AnonPath, "/") {
		return fmt.Errorf("%w: server.anon_path must start with /", ErrInvalid)
	}
	if !strings.HasPrefix(c.Server.AdminPath, "/") {
		return fmt.Errorf("%w: server.admin_path must start with /", ErrInvalid)
	}
	if c.Server.AnonPath == c.Server.AdminPath {
		return fmt.Errorf("%w: server.anon_path and server.admin_path must differ", ErrInvalid)
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("%w: session.cookie_name is required", ErrInvalid)
	}
	if c.Session.SettleDelay < 0 {
		return fmt.Errorf("%w: session.settle_delay must not be negative", ErrInvalid)
	}
	if c.Session.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: session.default_timeout must be positive", ErrInvalid)
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("%w: reconnect.max_attempts must not be negative", ErrInvalid)
	}
	if c.Send.MaxAttempts < 1 {
		return fmt.Errorf("%w: send.max_attempts must be at least 1", ErrInvalid)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalid)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalid, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q must be text or json", ErrInvalid, c.Logging.Format)
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("%w: tailscale.hostname is required when tailscale is enabled", ErrInvalid)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"session.settle_delay", cfg.Session.SettleDelayRaw, &cfg.Session.SettleDelay},
		{"session.default_timeout", cfg.Session.DefaultTimeoutRaw, &cfg.Session.DefaultTimeout},
		{"reconnect.max_backoff", cfg.Reconnect.MaxBackoffRaw, &cfg.Reconnect.MaxBackoff},
		{"send.max_backoff", cfg.Send.MaxBackoffRaw, &cfg.Send.MaxBackoff},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// DefaultPath resolves the config file location: CARDEA_CONFIG, then
// $XDG_CONFIG_HOME/cardea/console.yaml, then ~/.config/cardea/console.yaml.
func DefaultPath() string {
	if p := os.Getenv("CARDEA_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configHome(), "cardea", "console.yaml")
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func defaultStoragePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cardea", "console.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "cardea-console.db"
	}
	return filepath.Join(home, ".local", "share", "cardea", "console.db")
}
