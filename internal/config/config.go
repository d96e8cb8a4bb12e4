// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultGatewayURL is the AI gateway the dev server forwards to when none is configured.
const DefaultGatewayURL = "https://kaixugateway13.netlify.app"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"kaixu-devserver.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	GatewayURL    string `kong:"help='AI gateway base URL (overrides config).',env='GATEWAY_HOST'"`
	VirtualKey    string `kong:"help='Fallback gateway credential injected as a bearer token.',env='KAIXU_VIRTUAL_KEY'"`
	AdminPassword string `kong:"help='Password for the admin panel.',env='ADMIN_PASSWORD'"`
	Root          string `kong:"help='Directory served as the site root (overrides config).',env='SITE_ROOT'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
	Site    SiteConfig    `toml:"site"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// GatewayConfig describes the fixed upstream and how requests are relayed to it.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Prefix         string `toml:"prefix"`
	StreamMarker   string `toml:"stream_marker"`
	ChunkBytes     int    `toml:"chunk_bytes"`
	MaxRelayBytes  int64  `toml:"max_relay_bytes"` // 0 disables the cap
}

// Timeout returns the overall upstream timeout.
func (g *GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// AuthConfig holds credentials. Both fields may be empty.
type AuthConfig struct {
	VirtualKey    string `toml:"virtual_key"`
	AdminPassword string `toml:"admin_password"`
}

// SiteConfig controls the static file side of the dev server.
type SiteConfig struct {
	Root      string `toml:"root"`
	AppDir    string `toml:"app_dir"`
	ExposeKey bool   `toml:"expose_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Sync   bool   `toml:"sync"` // write log lines directly instead of through the buffered sink
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// An explicit path (via --config or CONFIG_PATH) must exist. Otherwise the
// search paths are tried and, when none exists, built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// FilePath returns the config file that was loaded, or "" when defaults were used.
func (c *Config) FilePath() string {
	return c.filePath
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.GatewayURL != "" {
		c.Gateway.BaseURL = cli.GatewayURL
	}
	if cli.VirtualKey != "" {
		c.Auth.VirtualKey = cli.VirtualKey
	}
	if cli.AdminPassword != "" {
		c.Auth.AdminPassword = cli.AdminPassword
	}
	if cli.Root != "" {
		c.Site.Root = cli.Root
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Gateway.BaseURL != "" {
		u, err := url.Parse(c.Gateway.BaseURL)
		if err != nil {
			return fmt.Errorf("gateway.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("gateway.base_url must use http or https; got %q", c.Gateway.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("gateway.base_url has no host; got %q", c.Gateway.BaseURL)
		}
		if u.Path != "" && u.Path != "/" {
			return fmt.Errorf("gateway.base_url must not carry a path; got %q", c.Gateway.BaseURL)
		}
	}

	if p := c.Gateway.Prefix; p != "" {
		if p[0] != '/' || strings.HasSuffix(p, "/") {
			return fmt.Errorf("gateway.prefix must start with '/' and not end with '/'; got %q", p)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Gateway.TimeoutSeconds < 0 {
		return fmt.Errorf("gateway.timeout_seconds must be non-negative; got %d", c.Gateway.TimeoutSeconds)
	}
	if c.Gateway.ChunkBytes < 0 {
		return fmt.Errorf("gateway.chunk_bytes must be non-negative; got %d", c.Gateway.ChunkBytes)
	}
	if c.Gateway.MaxRelayBytes < 0 {
		return fmt.Errorf("gateway.max_relay_bytes must be non-negative; got %d", c.Gateway.MaxRelayBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if strings.ContainsAny(c.Site.AppDir, `/\`) {
		return fmt.Errorf("site.app_dir must be a single directory name; got %q", c.Site.AppDir)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		prefix := c.Gateway.Prefix
		if prefix == "" {
			prefix = "/api"
		}
		for _, reserved := range []string{prefix, "/healthz", "/proxy/status", "/admin", "/login"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = DefaultGatewayURL
	}
	c.Gateway.BaseURL = strings.TrimSuffix(c.Gateway.BaseURL, "/")
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 120
	}
	if c.Gateway.Prefix == "" {
		c.Gateway.Prefix = "/api"
	}
	if c.Gateway.StreamMarker == "" {
		c.Gateway.StreamMarker = "gateway-stream"
	}
	if c.Gateway.ChunkBytes == 0 {
		c.Gateway.ChunkBytes = 64 * 1024
	}
	if c.Site.Root == "" {
		c.Site.Root = "."
	}
	if c.Site.AppDir == "" {
		c.Site.AppDir = "skAIxuide"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
