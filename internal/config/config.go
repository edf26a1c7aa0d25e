package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for callerbot.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Lookup     LookupConfig     `yaml:"lookup"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

type TelegramConfig struct {
	Token       string   `yaml:"token" env:"BOT_TOKEN"`
	AllowFrom   []string `yaml:"allowFrom" env:"CALLERBOT_ALLOW_FROM" envSeparator:","` // empty = allow all
	ParseMode   string   `yaml:"parseMode"`
	PollTimeout int      `yaml:"pollTimeout"` // seconds
}

type LookupConfig struct {
	InstallationID string `yaml:"installationId" env:"IID"`
	Region         string `yaml:"region" env:"CALLERBOT_REGION"`
	Endpoint       string `yaml:"endpoint"`
	UserAgent      string `yaml:"userAgent,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type DispatcherConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent"`
	BusBuffer     int `yaml:"busBuffer"`
}

// AuditConfig controls the SQLite log of undeliverable replies.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Endpoint string `yaml:"endpoint"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"CALLERBOT_LOG_LEVEL"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.callerbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callerbot"
	}
	return filepath.Join(home, ".callerbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads a YAML config file, expands ${VAR} references, overlays the
// process environment and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// FromEnv builds a config from defaults and the process environment only.
func FromEnv() (*Config, error) {
	return finish(Defaults())
}

// LoadOrEnv loads path when it exists and falls back to FromEnv otherwise.
func LoadOrEnv(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, os.ErrNotExist) {
		cfg, err := FromEnv()
		return cfg, false, err
	}
	cfg, err := Load(path)
	return cfg, true, err
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var regionPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Validate checks that the config has valid values. Credentials are checked
// separately by RequireCredentials so that inspection commands work without them.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	switch cfg.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}
	if cfg.Telegram.PollTimeout < 1 || cfg.Telegram.PollTimeout > 120 {
		errs = append(errs, "telegram.pollTimeout must be between 1 and 120")
	}

	if !regionPattern.MatchString(cfg.Lookup.Region) {
		errs = append(errs, "lookup.region must be a two-letter uppercase region code")
	}
	if cfg.Lookup.Endpoint == "" {
		errs = append(errs, "lookup.endpoint is required")
	}
	if cfg.Lookup.TimeoutSeconds < 1 || cfg.Lookup.TimeoutSeconds > 300 {
		errs = append(errs, "lookup.timeoutSeconds must be between 1 and 300")
	}

	if cfg.Dispatcher.MaxConcurrent < 1 || cfg.Dispatcher.MaxConcurrent > 1000 {
		errs = append(errs, "dispatcher.maxConcurrent must be between 1 and 1000")
	}
	if cfg.Dispatcher.BusBuffer < 1 {
		errs = append(errs, "dispatcher.busBuffer must be >= 1")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports missing credentials. The bot token is only
// needed when the Telegram channel is started.
func RequireCredentials(cfg *Config, needBotToken bool) error {
	var missing []string
	if needBotToken && cfg.Telegram.Token == "" {
		missing = append(missing, "BOT_TOKEN (telegram.token)")
	}
	if cfg.Lookup.InstallationID == "" {
		missing = append(missing, "IID (lookup.installationId)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
