// ABOUTME: Configuration loading and parsing for coven-notifier
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
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

// Config represents the complete coven-notifier configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	App       AppConfig       `yaml:"app" toml:"app"`
	Identity  IdentityConfig  `yaml:"identity" toml:"identity"`
	Directory DirectoryConfig `yaml:"directory" toml:"directory"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	SignIn    SignInConfig    `yaml:"signin" toml:"signin"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
// Funnel exposes the messaging endpoint publicly, which the bot service requires.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds sign-in state storage configuration.
// An empty path or ":memory:" keeps all state in process memory.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AppConfig holds the bot's application credential and identity
type AppConfig struct {
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	TenantID     string `yaml:"tenant_id" toml:"tenant_id"`
	TeamsAppID   string `yaml:"teams_app_id" toml:"teams_app_id"` // external id of the app in the catalog
	BotName      string `yaml:"bot_name" toml:"bot_name"`
}

// IdentityConfig holds identity provider settings
type IdentityConfig struct {
	AuthorityURL    string   `yaml:"authority_url" toml:"authority_url"`
	DirectoryScope  string   `yaml:"directory_scope" toml:"directory_scope"`
	DelegatedScopes []string `yaml:"delegated_scopes" toml:"delegated_scopes"`
	CacheAppTokens  bool     `yaml:"cache_app_tokens" toml:"cache_app_tokens"`

	// TokenTimeout bounds a single token request. Zero means no client-side timeout.
	TokenTimeout    time.Duration `yaml:"-" toml:"-"`
	TokenTimeoutRaw string        `yaml:"token_timeout" toml:"token_timeout"`
}

// DirectoryConfig holds directory (graph) service settings
type DirectoryConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// Transport kinds
const (
	TransportBotFramework = "botframework"
	TransportMatrix       = "matrix"
)

// TransportConfig selects and configures the message transport
type TransportConfig struct {
	Kind       string       `yaml:"kind" toml:"kind"`
	ServiceURL string       `yaml:"service_url" toml:"service_url"`
	TokenURL   string       `yaml:"token_url" toml:"token_url"`
	Scope      string       `yaml:"scope" toml:"scope"`
	Matrix     MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds Matrix transport configuration
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
}

// SignInConfig holds single-sign-on settings
type SignInConfig struct {
	ConnectionName string `yaml:"connection_name" toml:"connection_name"`
}

// NotifyConfig holds proactive notification settings
type NotifyConfig struct {
	DefaultMessage string `yaml:"default_message" toml:"default_message"`
	RenderMarkdown bool   `yaml:"render_markdown" toml:"render_markdown"`
}

// APIConfig holds settings for the outward HTTP API
type APIConfig struct {
	JWTSecret          string `yaml:"jwt_secret" toml:"jwt_secret"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
	RateLimitBurst     int    `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
}

// DedupeConfig holds inbound activity de-duplication settings
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults for optional fields
const (
	DefaultHTTPAddr        = "localhost:3978"
	DefaultAuthorityURL    = "https://login.microsoftonline.com"
	DefaultDirectoryScope  = "https://graph.microsoft.com/.default"
	DefaultDirectoryURL    = "https://graph.microsoft.com/v1.0"
	DefaultBotTokenURL     = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultBotScope        = "https://api.botframework.com/.default"
	DefaultConnectionName  = "AAD"
	DefaultBotName         = "Notifier"
	DefaultMessage         = "You have a new notification."
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeMax       = 10_000
	DefaultRateLimitPerMin = 60
	DefaultMetricsPath     = "/metrics"
)

// DefaultDelegatedScopes are requested when exchanging a user's token on their behalf
var DefaultDelegatedScopes = []string{"User.Read", "Chat.ReadBasic", "TeamsAppInstallation.ReadForUser"}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in ".toml" are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// applyDefaults fills optional fields left empty by the config file
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}
	if cfg.App.BotName == "" {
		cfg.App.BotName = DefaultBotName
	}
	if cfg.Identity.AuthorityURL == "" {
		cfg.Identity.AuthorityURL = DefaultAuthorityURL
	}
	if cfg.Identity.DirectoryScope == "" {
		cfg.Identity.DirectoryScope = DefaultDirectoryScope
	}
	if len(cfg.Identity.DelegatedScopes) == 0 {
		cfg.Identity.DelegatedScopes = append([]string(nil), DefaultDelegatedScopes...)
	}
	if cfg.Directory.BaseURL == "" {
		cfg.Directory.BaseURL = DefaultDirectoryURL
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportBotFramework
	}
	if cfg.Transport.TokenURL == "" {
		cfg.Transport.TokenURL = DefaultBotTokenURL
	}
	if cfg.Transport.Scope == "" {
		cfg.Transport.Scope = DefaultBotScope
	}
	if cfg.SignIn.ConnectionName == "" {
		cfg.SignIn.ConnectionName = DefaultConnectionName
	}
	if cfg.Notify.DefaultMessage == "" {
		cfg.Notify.DefaultMessage = DefaultMessage
	}
	if cfg.API.RateLimitPerMinute == 0 {
		cfg.API.RateLimitPerMinute = DefaultRateLimitPerMin
	}
	if cfg.API.RateLimitBurst == 0 {
		cfg.API.RateLimitBurst = cfg.API.RateLimitPerMinute
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = DefaultDedupeMax
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.App.ClientID == "" {
		return fmt.Errorf("app.client_id is required")
	}
	if c.App.ClientSecret == "" {
		return fmt.Errorf("app.client_secret is required")
	}
	if c.App.TeamsAppID == "" {
		return fmt.Errorf("app.teams_app_id is required")
	}

	if err := validateURL("identity.authority_url", c.Identity.AuthorityURL); err != nil {
		return err
	}
	if err := validateURL("directory.base_url", c.Directory.BaseURL); err != nil {
		return err
	}

	switch c.Transport.Kind {
	case TransportBotFramework:
		if c.Transport.ServiceURL == "" {
			return fmt.Errorf("transport.service_url is required for the botframework transport")
		}
		if err := validateURL("transport.service_url", c.Transport.ServiceURL); err != nil {
			return err
		}
	case TransportMatrix:
		if c.Transport.Matrix.Homeserver == "" {
			return fmt.Errorf("transport.matrix.homeserver is required for the matrix transport")
		}
		if c.Transport.Matrix.UserID == "" || c.Transport.Matrix.AccessToken == "" {
			return fmt.Errorf("transport.matrix.user_id and transport.matrix.access_token are required")
		}
	default:
		return fmt.Errorf("transport.kind %q is not supported (use %q or %q)", c.Transport.Kind, TransportBotFramework, TransportMatrix)
	}

	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < 32 {
		return fmt.Errorf("api.jwt_secret must be at least 32 bytes")
	}
	if c.API.RateLimitPerMinute < 0 {
		return fmt.Errorf("api.rate_limit_per_minute must not be negative")
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Identity.TokenTimeoutRaw != "" {
		cfg.Identity.TokenTimeout, err = time.ParseDuration(cfg.Identity.TokenTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing token_timeout %q: %w", cfg.Identity.TokenTimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}

// DefaultPath returns the config file location used when none is given explicitly
func DefaultPath() string {
	if p := os.Getenv("COVEN_NOTIFIER_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "notifier.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "notifier.yaml"
	}
	return filepath.Join(home, ".config", "coven", "notifier.yaml")
}

// MemoryDatabase reports whether sign-in state lives only in process memory
func (c *Config) MemoryDatabase() bool {
	return c.Database.Path == "" || c.Database.Path == ":memory:"
}
