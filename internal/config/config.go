// Package config provides configuration loading for finchat.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file and
// environment variables (see LoadWithFile). The resulting Config is validated
// once at process start and treated as read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete finchat configuration.
type Config struct {
	LLM       LLMConfig       `koanf:"llm"`
	Database  DatabaseConfig  `koanf:"database"`
	Charts    ChartsConfig    `koanf:"charts"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Secrets   SecretsConfig   `koanf:"secrets"`
}

// LLMConfig configures the language-model capability.
type LLMConfig struct {
	Provider    string        `koanf:"provider"` // langchaingo | eino
	APIType     string        `koanf:"api_type"` // openai | azure
	Endpoint    string        `koanf:"endpoint"`
	Model       string        `koanf:"model"` // model name, or deployment name for azure
	APIKey      Secret        `koanf:"api_key"`
	APIVersion  string        `koanf:"api_version"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second
	Burst       int           `koanf:"burst"`
}

// DatabaseConfig configures the data store and the query executor.
type DatabaseConfig struct {
	Driver           string        `koanf:"driver"` // sqlserver | mysql | sqlite
	DSN              Secret        `koanf:"dsn"`
	Server           string        `koanf:"server"`
	Port             int           `koanf:"port"`
	Name             string        `koanf:"name"`
	User             string        `koanf:"user"`
	Password         Secret        `koanf:"password"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
	MaxAttempts      int           `koanf:"max_attempts"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	SampleRows       int           `koanf:"sample_rows"`
}

// ChartsConfig configures where rendered charts and exports are written.
type ChartsConfig struct {
	Dir string `koanf:"dir"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AuthUser        string        `koanf:"auth_user"`
	AuthPassword    Secret        `koanf:"auth_password"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// SecretsConfig controls credential scrubbing of store error messages.
type SecretsConfig struct {
	Disabled bool `koanf:"disabled"`
	// AllowListFile is a TOML file of patterns that are never redacted.
	AllowListFile string `koanf:"allowlist_file"`
}

// AuthEnabled reports whether HTTP basic auth is configured.
func (s ServerConfig) AuthEnabled() bool {
	return s.AuthUser != "" && s.AuthPassword.IsSet()
}

// ConnectionString returns the driver-specific data source name.
//
// An explicit DSN wins. Otherwise the DSN is assembled from the discrete
// server/name/user/password fields, matching what each driver expects.
func (d DatabaseConfig) ConnectionString() (string, error) {
	if d.DSN.IsSet() {
		return d.DSN.Value(), nil
	}

	switch d.Driver {
	case "sqlserver":
		if d.Server == "" || d.Name == "" {
			return "", errors.New("database server and name are required for sqlserver")
		}
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(d.User, d.Password.Value()),
			Host:   fmt.Sprintf("%s:%d", d.Server, d.Port),
		}
		q := url.Values{}
		q.Set("database", d.Name)
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "false")
		q.Set("connection timeout", fmt.Sprintf("%d", int(d.StatementTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "mysql":
		if d.Server == "" || d.Name == "" {
			return "", errors.New("database server and name are required for mysql")
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&allowNativePasswords=true",
			d.User, d.Password.Value(), d.Server, d.Port, d.Name), nil
	case "sqlite":
		if d.Name == "" {
			return "", errors.New("database name (file path) is required for sqlite")
		}
		return d.Name, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", d.Driver)
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the LLM provider or API type is unknown
//   - the database driver is unknown, or attempts/timeouts are not positive
//   - the server port is not between 1 and 65535
//   - basic auth is half configured
//   - telemetry is enabled without an endpoint
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "langchaingo", "eino":
	default:
		return fmt.Errorf("invalid llm provider: %q (must be langchaingo or eino)", c.LLM.Provider)
	}
	switch c.LLM.APIType {
	case "openai", "azure":
	default:
		return fmt.Errorf("invalid llm api_type: %q (must be openai or azure)", c.LLM.APIType)
	}
	if c.LLM.RateLimit < 0 {
		return errors.New("llm rate_limit cannot be negative")
	}

	switch c.Database.Driver {
	case "sqlserver", "mysql", "sqlite":
	default:
		return fmt.Errorf("invalid database driver: %q (must be sqlserver, mysql or sqlite)", c.Database.Driver)
	}
	if c.Database.MaxAttempts < 1 {
		return fmt.Errorf("database max_attempts must be >= 1, got %d", c.Database.MaxAttempts)
	}
	if c.Database.StatementTimeout <= 0 {
		return errors.New("database statement_timeout must be positive")
	}
	if c.Database.BaseDelay < 0 {
		return errors.New("database base_delay cannot be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if (c.Server.AuthUser == "") != (!c.Server.AuthPassword.IsSet()) {
		return errors.New("server auth_user and auth_password must be set together")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	return nil
}
