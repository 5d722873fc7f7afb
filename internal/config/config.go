// ABOUTME: Configuration loading and parsing for whatsapp-bridge
// ABOUTME: Supports YAML or TOML files with ${VAR} expansion, env overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "WHATSAPP_BRIDGE_CONFIG"

// Config represents the complete whatsapp-bridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" toml:"whatsapp"`
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr" env:"BRIDGE_HTTP_ADDR"`
	WebhookPath string `yaml:"webhook_path" toml:"webhook_path"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS, required for Meta to reach the webhook
}

// WhatsAppConfig holds the Cloud API credentials
type WhatsAppConfig struct {
	AppSecret     string `yaml:"app_secret" toml:"app_secret" env:"WHATSAPP_APP_SECRET"`
	VerifyToken   string `yaml:"verify_token" toml:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	AccessToken   string `yaml:"access_token" toml:"access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" toml:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	APIBaseURL    string `yaml:"api_base_url" toml:"api_base_url"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// BackendConfig holds the streaming backend endpoint
type BackendConfig struct {
	URL       string `yaml:"url" toml:"url" env:"BRIDGE_BACKEND_URL"`
	Token     string `yaml:"token" toml:"token" env:"BRIDGE_GATEWAY_TOKEN"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"BRIDGE_BACKEND_JWT_SECRET"`
	HealthURL string `yaml:"health_url" toml:"health_url"`

	ResponseTimeout    time.Duration `yaml:"-" toml:"-"`
	ResponseTimeoutRaw string        `yaml:"response_timeout" toml:"response_timeout"`
	PingTimeout        time.Duration `yaml:"-" toml:"-"`
	PingTimeoutRaw     string        `yaml:"ping_timeout" toml:"ping_timeout"`
}

// BridgeConfig holds reply formatting and user-facing notices
type BridgeConfig struct {
	MaxReplyLength    int    `yaml:"max_reply_length" toml:"max_reply_length"`
	ThinkingEmoji     string `yaml:"thinking_emoji" toml:"thinking_emoji"` // "none" disables the reaction
	Markdown          string `yaml:"markdown" toml:"markdown"`             // whatsapp, none
	UnavailableNotice string `yaml:"unavailable_notice" toml:"unavailable_notice"`
	ErrorNotice       string `yaml:"error_notice" toml:"error_notice"`
}

// DedupeConfig holds webhook redelivery suppression settings
type DedupeConfig struct {
	MaxEntries int    `yaml:"max_entries" toml:"max_entries"`
	RedisURL   string `yaml:"redis_url" toml:"redis_url" env:"BRIDGE_REDIS_URL"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// DatabaseConfig holds the outcome store location. Empty disables recording.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" env:"BRIDGE_DATABASE_PATH"`
}

// AuthConfig holds operator API authentication
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"BRIDGE_JWT_SECRET"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"BRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads the configuration file at path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// the variables named in env struct tags override file values. An empty
// path builds the configuration from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))
		if err := decode(path, expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

// ResolvePath returns the config file to use: $WHATSAPP_BRIDGE_CONFIG,
// then ./config.yaml, then whatsapp-bridge/config.yaml under the user
// config directory. It returns "" when none exists.
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	candidates := []string{"config.yaml", "config.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(dir, "whatsapp-bridge", "config.yaml"),
			filepath.Join(dir, "whatsapp-bridge", "config.toml"),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with /, got %q", c.Server.WebhookPath)
	}

	if c.WhatsApp.VerifyToken == "" {
		return errors.New("whatsapp.verify_token is required")
	}
	if c.WhatsApp.AccessToken == "" {
		return errors.New("whatsapp.access_token is required")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return errors.New("whatsapp.phone_number_id is required")
	}

	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if c.Backend.Token != "" && c.Backend.JWTSecret != "" {
		return errors.New("backend.token and backend.jwt_secret are mutually exclusive")
	}

	if c.Bridge.MaxReplyLength < 1 || c.Bridge.MaxReplyLength > 4096 {
		return fmt.Errorf("bridge.max_reply_length must be between 1 and 4096, got %d", c.Bridge.MaxReplyLength)
	}
	switch c.Bridge.Markdown {
	case "whatsapp", "none":
	default:
		return fmt.Errorf("bridge.markdown must be whatsapp or none, got %q", c.Bridge.Markdown)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ReactionsEnabled reports whether the thinking reaction is sent.
func (c *BridgeConfig) ReactionsEnabled() bool {
	return c.ThinkingEmoji != "none"
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"whatsapp.request_timeout", cfg.WhatsApp.RequestTimeoutRaw, &cfg.WhatsApp.RequestTimeout},
		{"backend.response_timeout", cfg.Backend.ResponseTimeoutRaw, &cfg.Backend.ResponseTimeout},
		{"backend.ping_timeout", cfg.Backend.PingTimeoutRaw, &cfg.Backend.PingTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
