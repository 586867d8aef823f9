package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the service and the CLI
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Mistral  MistralConfig  `mapstructure:"mistral"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Reddit   RedditConfig   `mapstructure:"reddit"`
	Timing   TimingConfig   `mapstructure:"timing"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig selects the slog handler and level
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MistralConfig contains the completion service settings
type MistralConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

// BudgetConfig contains the daily token cap
type BudgetConfig struct {
	DailyTokenLimit int `mapstructure:"daily_token_limit"`
}

// LedgerConfig selects where the usage ledger is persisted
type LedgerConfig struct {
	Backend string `mapstructure:"backend"` // file, sqlite or redis
	Path    string `mapstructure:"path"`
}

// DatabaseConfig points at the SQLite file used for history and the sqlite ledger backend
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig is used only by the redis ledger backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RedditConfig contains the search and detail endpoints
type RedditConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	DetailBaseURL string `mapstructure:"detail_base_url"`
	UserAgent     string `mapstructure:"user_agent"`
}

// TimingConfig scales every timeout and pause in the pipelines
type TimingConfig struct {
	Unit time.Duration `mapstructure:"unit"`
}

// Units converts a count of time-units into a duration
func (t TimingConfig) Units(n int) time.Duration {
	return time.Duration(n) * t.Unit
}

var validLedgerBackends = map[string]bool{"file": true, "sqlite": true, "redis": true}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Budget.DailyTokenLimit <= 0 {
		return fmt.Errorf("budget.daily_token_limit must be > 0, got %d", c.Budget.DailyTokenLimit)
	}
	if !validLedgerBackends[c.Ledger.Backend] {
		return fmt.Errorf("ledger.backend must be one of file, sqlite, redis, got %q", c.Ledger.Backend)
	}
	if c.Ledger.Backend == "file" && strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required for the file backend")
	}
	if c.Ledger.Backend == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required for the redis backend")
	}
	if c.Timing.Unit <= 0 {
		return fmt.Errorf("timing.unit must be > 0, got %s", c.Timing.Unit)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("mistral.api_key", "")
	v.SetDefault("mistral.model", "mistral-large-latest")
	v.SetDefault("mistral.endpoint", "https://api.mistral.ai/v1/chat/completions")
	v.SetDefault("budget.daily_token_limit", 100000)
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "usage.json")
	v.SetDefault("database.path", "reddit-plan.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "reddit-plan:usage")
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.detail_base_url", "https://old.reddit.com")
	v.SetDefault("reddit.user_agent", defaultUserAgent)
	v.SetDefault("timing.unit", time.Second)
}

// LoadConfig reads an optional config file, then the environment.
// With an empty path the file is looked up as config.{yaml,json,toml} in ., ./config and the executable's directory.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("REDDITPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment environment uses these names unprefixed
	bindings := map[string]string{
		"mistral.api_key":          "MISTRAL_API_KEY",
		"mistral.model":            "MISTRAL_MODEL",
		"budget.daily_token_limit": "DAILY_TOKEN_LIMIT",
		"server.port":              "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "REDDITPLAN_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Debug("No config file found, using defaults and environment")
	} else {
		slog.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
