// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
app:
  client_id: "client"
  client_secret: "secret"
  teams_app_id: "external-app"
transport:
  service_url: "https://smba.example.com/teams/"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configContent := `
server:
  http_addr: "0.0.0.0:3978"

database:
  path: "./notifier.db"

app:
  client_id: "11111111-2222-3333-4444-555555555555"
  client_secret: "shh"
  tenant_id: "contoso"
  teams_app_id: "external-app"
  bot_name: "Coven"

identity:
  delegated_scopes:
    - "User.Read"
  cache_app_tokens: true
  token_timeout: "10s"

transport:
  kind: "botframework"
  service_url: "https://smba.example.com/teams/"

notify:
  default_message: "ping"
  render_markdown: true

api:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  rate_limit_per_minute: 30
  rate_limit_burst: 5

dedupe:
  ttl: "2m"
  max_entries: 100

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`
	cfg, err := Load(writeConfig(t, "notifier.yaml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3978" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3978")
	}
	if cfg.Database.Path != "./notifier.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./notifier.db")
	}
	if cfg.MemoryDatabase() {
		t.Error("MemoryDatabase() = true, want false")
	}
	if cfg.App.TenantID != "contoso" {
		t.Errorf("App.TenantID = %q, want %q", cfg.App.TenantID, "contoso")
	}
	if cfg.App.BotName != "Coven" {
		t.Errorf("App.BotName = %q, want %q", cfg.App.BotName, "Coven")
	}
	if len(cfg.Identity.DelegatedScopes) != 1 || cfg.Identity.DelegatedScopes[0] != "User.Read" {
		t.Errorf("Identity.DelegatedScopes = %v, want [User.Read]", cfg.Identity.DelegatedScopes)
	}
	if !cfg.Identity.CacheAppTokens {
		t.Error("Identity.CacheAppTokens = false, want true")
	}
	if cfg.Identity.TokenTimeout != 10*time.Second {
		t.Errorf("Identity.TokenTimeout = %v, want %v", cfg.Identity.TokenTimeout, 10*time.Second)
	}
	if cfg.Notify.DefaultMessage != "ping" {
		t.Errorf("Notify.DefaultMessage = %q, want %q", cfg.Notify.DefaultMessage, "ping")
	}
	if cfg.API.RateLimitPerMinute != 30 || cfg.API.RateLimitBurst != 5 {
		t.Errorf("API rate limit = %d/%d, want 30/5", cfg.API.RateLimitPerMinute, cfg.API.RateLimitBurst)
	}
	if cfg.Dedupe.TTL != 2*time.Minute {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, 2*time.Minute)
	}
	if cfg.Dedupe.MaxEntries != 100 {
		t.Errorf("Dedupe.MaxEntries = %d, want %d", cfg.Dedupe.MaxEntries, 100)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/prom" {
		t.Errorf("Metrics = %+v, want enabled at /prom", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "notifier.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if !cfg.MemoryDatabase() {
		t.Error("MemoryDatabase() = false, want true")
	}
	if cfg.Identity.AuthorityURL != DefaultAuthorityURL {
		t.Errorf("Identity.AuthorityURL = %q, want %q", cfg.Identity.AuthorityURL, DefaultAuthorityURL)
	}
	if cfg.Identity.DirectoryScope != DefaultDirectoryScope {
		t.Errorf("Identity.DirectoryScope = %q, want %q", cfg.Identity.DirectoryScope, DefaultDirectoryScope)
	}
	if strings.Join(cfg.Identity.DelegatedScopes, " ") != "User.Read Chat.ReadBasic TeamsAppInstallation.ReadForUser" {
		t.Errorf("Identity.DelegatedScopes = %v", cfg.Identity.DelegatedScopes)
	}
	if cfg.Identity.CacheAppTokens {
		t.Error("Identity.CacheAppTokens = true, want false by default")
	}
	if cfg.Identity.TokenTimeout != 0 {
		t.Errorf("Identity.TokenTimeout = %v, want 0", cfg.Identity.TokenTimeout)
	}
	if cfg.Directory.BaseURL != DefaultDirectoryURL {
		t.Errorf("Directory.BaseURL = %q, want %q", cfg.Directory.BaseURL, DefaultDirectoryURL)
	}
	if cfg.Transport.Kind != TransportBotFramework {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportBotFramework)
	}
	if cfg.Transport.TokenURL != DefaultBotTokenURL {
		t.Errorf("Transport.TokenURL = %q, want %q", cfg.Transport.TokenURL, DefaultBotTokenURL)
	}
	if cfg.Transport.Scope != DefaultBotScope {
		t.Errorf("Transport.Scope = %q, want %q", cfg.Transport.Scope, DefaultBotScope)
	}
	if cfg.SignIn.ConnectionName != DefaultConnectionName {
		t.Errorf("SignIn.ConnectionName = %q, want %q", cfg.SignIn.ConnectionName, DefaultConnectionName)
	}
	if cfg.API.RateLimitBurst != DefaultRateLimitPerMin {
		t.Errorf("API.RateLimitBurst = %d, want %d", cfg.API.RateLimitBurst, DefaultRateLimitPerMin)
	}
	if cfg.Dedupe.TTL != DefaultDedupeTTL {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, DefaultDedupeTTL)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
}

func TestLoad_TOML(t *testing.T) {
	configContent := `
[app]
client_id = "client"
client_secret = "secret"
teams_app_id = "external-app"

[transport]
kind = "matrix"

[transport.matrix]
homeserver = "https://matrix.example.com"
user_id = "@notifier:example.com"
access_token = "mx-token"

[dedupe]
ttl = "30s"
`
	cfg, err := Load(writeConfig(t, "notifier.toml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport.Kind != TransportMatrix {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportMatrix)
	}
	if cfg.Transport.Matrix.UserID != "@notifier:example.com" {
		t.Errorf("Transport.Matrix.UserID = %q, want %q", cfg.Transport.Matrix.UserID, "@notifier:example.com")
	}
	if cfg.Dedupe.TTL != 30*time.Second {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, 30*time.Second)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_APP_SECRET", "from-env")
	t.Setenv("TEST_SERVICE_URL", "https://smba.env.example.com/")

	configContent := `
app:
  client_id: "client"
  client_secret: "${TEST_APP_SECRET}"
  teams_app_id: "external-app"
transport:
  service_url: "${TEST_SERVICE_URL}"
`
	cfg, err := Load(writeConfig(t, "notifier.yaml", configContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.ClientSecret != "from-env" {
		t.Errorf("App.ClientSecret = %q, want %q", cfg.App.ClientSecret, "from-env")
	}
	if cfg.Transport.ServiceURL != "https://smba.env.example.com/" {
		t.Errorf("Transport.ServiceURL = %q, want %q", cfg.Transport.ServiceURL, "https://smba.env.example.com/")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("DEFINITELY_NOT_SET_NOTIFIER_VAR")

	configContent := `
app:
  client_id: "client"
  client_secret: "${DEFINITELY_NOT_SET_NOTIFIER_VAR}"
  teams_app_id: "external-app"
transport:
  service_url: "https://smba.example.com/"
`
	_, err := Load(writeConfig(t, "notifier.yaml", configContent))
	if err == nil {
		t.Fatal("Load() expected error for empty client secret, got nil")
	}
	if !strings.Contains(err.Error(), "app.client_secret") {
		t.Errorf("Load() error = %q, want mention of app.client_secret", err.Error())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/notifier.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "notifier.yaml", "app: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "invalid token_timeout",
			content: minimalYAML + "identity:\n  token_timeout: \"soon\"\n",
		},
		{
			name:    "invalid dedupe ttl",
			content: minimalYAML + "dedupe:\n  ttl: \"forever\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "notifier.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error for invalid duration, got nil")
			}
			if !strings.Contains(err.Error(), "parsing durations") {
				t.Errorf("Load() error = %q, want duration parse error", err.Error())
			}
		})
	}
}

func validConfig() *Config {
	cfg := &Config{
		App: AppConfig{ClientID: "client", ClientSecret: "secret", TeamsAppID: "app"},
		Transport: TransportConfig{
			ServiceURL: "https://smba.example.com/",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing client id", mutate: func(c *Config) { c.App.ClientID = "" }, wantErr: "app.client_id"},
		{name: "missing teams app id", mutate: func(c *Config) { c.App.TeamsAppID = "" }, wantErr: "app.teams_app_id"},
		{name: "missing service url", mutate: func(c *Config) { c.Transport.ServiceURL = "" }, wantErr: "transport.service_url"},
		{name: "bad directory scheme", mutate: func(c *Config) { c.Directory.BaseURL = "ftp://graph" }, wantErr: "directory.base_url"},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, wantErr: "transport.kind"},
		{
			name: "matrix without credentials",
			mutate: func(c *Config) {
				c.Transport.Kind = TransportMatrix
				c.Transport.Matrix.Homeserver = "https://matrix.example.com"
			},
			wantErr: "transport.matrix.user_id",
		},
		{name: "short jwt secret", mutate: func(c *Config) { c.API.JWTSecret = "short" }, wantErr: "api.jwt_secret"},
		{name: "negative rate limit", mutate: func(c *Config) { c.API.RateLimitPerMinute = -1 }, wantErr: "rate_limit_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.HTTPAddr = ""
	cfg.Tailscale.Enabled = true

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "tailscale.hostname") {
		t.Errorf("Validate() error = %v, want tailscale.hostname error", err)
	}

	cfg.Tailscale.Hostname = "notifier"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NOTIFIER_A", "alpha")
	t.Setenv("NOTIFIER_B", "beta")

	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"${NOTIFIER_A}", "alpha"},
		{"${NOTIFIER_A}-${NOTIFIER_B}", "alpha-beta"},
		{"prefix ${NOTIFIER_UNSET_VALUE} suffix", "prefix  suffix"},
		{"$NOTIFIER_A", "$NOTIFIER_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("COVEN_NOTIFIER_CONFIG", "/etc/coven/custom.yaml")
	if got := DefaultPath(); got != "/etc/coven/custom.yaml" {
		t.Errorf("DefaultPath() = %q, want %q", got, "/etc/coven/custom.yaml")
	}

	t.Setenv("COVEN_NOTIFIER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "coven", "notifier.yaml") {
		t.Errorf("DefaultPath() = %q, want xdg location", got)
	}
}
