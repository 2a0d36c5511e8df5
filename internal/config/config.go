// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"tiergate/internal/session"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tiergate/config.toml",
	"configs/config.toml",
}

// EnvProduction is the environment name that selects the production profile.
const EnvProduction = "production"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config            string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host              string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port              int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Env               string `kong:"help='Deployment environment; production enables hardened cookies.',env='NODE_ENV'"`
	SessionSecret     string `kong:"help='Session cookie signing secret (overrides config).',env='SESSION_SECRET'"`
	CORSOrigin        string `kong:"name='cors-origin',help='Extra comma-separated allowed origins.',env='CORS_ORIGIN'"`
	DatabaseURL       string `kong:"name='database-url',help='Database DSN handed to the persistence layer.',env='DATABASE_URL'"`
	TelemetryEndpoint string `kong:"help='OTLP gRPC endpoint for traces and error reports.',env='TELEMETRY_ENDPOINT'"`
	LogLevel          string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Session   SessionConfig   `toml:"session"`
	CORS      CORSConfig      `toml:"cors"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Static    StaticConfig    `toml:"static"`
	Database  DatabaseConfig  `toml:"database"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (5000)
	Environment  string          `toml:"env"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SessionConfig holds session cookie and store settings.
type SessionConfig struct {
	Secret               string `toml:"secret"`
	Domain               string `toml:"domain"`
	SweepIntervalSeconds int    `toml:"sweep_interval_seconds"`
}

// CORSConfig lists allowed origins. Empty lists fall back to the built-in set.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
	HostPatterns   []string `toml:"host_patterns"`
	ExtraOrigins   string   `toml:"extra_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TelemetryConfig holds OTLP exporter settings. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	ServiceName string  `toml:"service_name"`
	SampleRate  float64 `toml:"sample_rate"`
}

// StaticConfig points at a built dashboard to serve under "/".
type StaticConfig struct {
	Dir string `toml:"dir"`
}

// DatabaseConfig is passed through to the persistence layer.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tiergate/config.toml then configs/config.toml; finding none is fine
// and leaves environment variables and defaults in charge.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Env != "" {
		c.Server.Environment = cli.Env
	}
	if cli.SessionSecret != "" {
		c.Session.Secret = cli.SessionSecret
	}
	if cli.CORSOrigin != "" {
		c.CORS.ExtraOrigins = cli.CORSOrigin
	}
	if cli.DatabaseURL != "" {
		c.Database.URL = cli.DatabaseURL
	}
	if cli.TelemetryEndpoint != "" {
		c.Telemetry.Endpoint = cli.TelemetryEndpoint
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// ErrMissingSecret is returned when production runs without a signing secret.
var ErrMissingSecret = errors.New("session.secret (or SESSION_SECRET) is required in production")

func (c *Config) validate() error {
	if c.IsProduction() {
		if c.Session.Secret == "" {
			return ErrMissingSecret
		}
		if c.Session.Secret == session.DevSecret {
			return fmt.Errorf("session.secret must not be the development default in production")
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Session.SweepIntervalSeconds < 0 {
		return fmt.Errorf("session.sweep_interval_seconds must be non-negative; got %d", c.Session.SweepIntervalSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1]; got %v", c.Telemetry.SampleRate)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz", "/assets"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	if c.Static.Dir != "" {
		info, err := os.Stat(c.Static.Dir)
		if err != nil {
			return fmt.Errorf("static.dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static.dir %q is not a directory", c.Static.Dir)
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Session.SweepIntervalSeconds == 0 {
		c.Session.SweepIntervalSeconds = int(session.DefaultSweepInterval.Seconds())
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
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tiergate"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1
	}
}

// IsProduction reports whether the production profile applies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, EnvProduction)
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

// WarnPermissions logs a warning if the config file is readable by group or
// others while it holds the session secret.
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
