package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	appName           = "finchat"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the top-level keys an environment variable may address.
var sections = map[string]bool{
	"llm":       true,
	"database":  true,
	"charts":    true,
	"server":    true,
	"logging":   true,
	"telemetry": true,
	"secrets":   true,
}

// legacyEnv maps deployment-era variable names onto config keys.
var legacyEnv = map[string]string{
	"AZURE_OPENAI_ENDPOINT":    "llm.endpoint",
	"AZURE_OPENAI_API_KEY":     "llm.api_key",
	"AZURE_OPENAI_DEPLOYMENT":  "llm.model",
	"AZURE_OPENAI_API_VERSION": "llm.api_version",
	"AZURE_SQL_SERVER":         "database.server",
	"AZURE_SQL_DATABASE":       "database.name",
	"SQL_USERNAME":             "database.user",
	"SQL_PASSWORD":             "database.password",
	"GRADIO_AUTH_USER":         "server.auth_user",
	"GRADIO_AUTH_PASS":         "server.auth_password",
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DATABASE_DRIVER, LLM_MODEL, SERVER_HTTP_PORT, ...)
//  2. Legacy variables (AZURE_OPENAI_*, AZURE_SQL_*, SQL_USERNAME, GRADIO_AUTH_*)
//  3. YAML config file (~/.config/finchat/config.yaml)
//  4. Hardcoded defaults
//
// # Security Considerations
//
// The file must live under ~/.config/finchat/ or /etc/finchat/, must have 0600
// or 0400 permissions and must not exceed 1MB.
//
// # Environment Variable Mapping
//
// Variables are split on the first underscore into section and field:
//
//	DATABASE_STATEMENT_TIMEOUT -> database.statement_timeout
//	SERVER_HTTP_PORT           -> server.http_port
//
// Variables whose prefix is not a known section are ignored.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appName, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}
	if err := k.Load(env.Provider("", ".", sectionKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// sectionKey maps SECTION_FIELD_NAME to section.field_name, dropping
// variables outside the known sections.
func sectionKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

func legacyKey(s string) string {
	return legacyEnv[s]
}

// readConfigFile opens the file once and validates it through the open
// descriptor so the checked file is the one that gets read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/finchat with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", appName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, dir := range []string{
		filepath.Join(home, ".config", appName),
		filepath.Join("/etc", appName),
	} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appName, appName)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "langchaingo"
	}
	if cfg.LLM.APIType == "" {
		if cfg.LLM.APIVersion != "" {
			cfg.LLM.APIType = "azure"
		} else {
			cfg.LLM.APIType = "openai"
		}
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.APIType == "azure" && cfg.LLM.APIVersion == "" {
		cfg.LLM.APIVersion = "2024-02-15-preview"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlserver"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Driver {
		case "sqlserver":
			cfg.Database.Port = 1433
		case "mysql":
			cfg.Database.Port = 3306
		}
	}
	if cfg.Database.StatementTimeout == 0 {
		cfg.Database.StatementTimeout = 30 * time.Second
	}
	if cfg.Database.MaxAttempts == 0 {
		cfg.Database.MaxAttempts = 3
	}
	if cfg.Database.BaseDelay == 0 {
		cfg.Database.BaseDelay = time.Second
	}
	if cfg.Database.SampleRows == 0 {
		cfg.Database.SampleRows = 2
	}

	if cfg.Charts.Dir == "" {
		cfg.Charts.Dir = "."
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7860
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = appName
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}
