package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Expected port 5000, got %d", cfg.Server.Port)
	}
	if cfg.Budget.DailyTokenLimit != 100000 {
		t.Errorf("Expected daily limit 100000, got %d", cfg.Budget.DailyTokenLimit)
	}
	if cfg.Mistral.Model != "mistral-large-latest" {
		t.Errorf("Expected default model, got '%s'", cfg.Mistral.Model)
	}
	if cfg.Ledger.Backend != "file" || cfg.Ledger.Path != "usage.json" {
		t.Errorf("Expected file ledger at usage.json, got %+v", cfg.Ledger)
	}
	if cfg.Timing.Unit != time.Second {
		t.Errorf("Expected a one second time-unit, got %s", cfg.Timing.Unit)
	}
	if cfg.Reddit.BaseURL != "https://www.reddit.com" {
		t.Errorf("Expected reddit base URL, got '%s'", cfg.Reddit.BaseURL)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MISTRAL_API_KEY", "secret")
	t.Setenv("MISTRAL_MODEL", "mistral-small-latest")
	t.Setenv("DAILY_TOKEN_LIMIT", "2500")
	t.Setenv("PORT", "8080")
	t.Setenv("REDDITPLAN_LEDGER_BACKEND", "sqlite")
	t.Setenv("REDDITPLAN_TIMING_UNIT", "10ms")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Mistral.APIKey != "secret" || cfg.Mistral.Model != "mistral-small-latest" {
		t.Errorf("Expected mistral settings from env, got %+v", cfg.Mistral)
	}
	if cfg.Budget.DailyTokenLimit != 2500 {
		t.Errorf("Expected limit 2500, got %d", cfg.Budget.DailyTokenLimit)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("Expected sqlite backend, got '%s'", cfg.Ledger.Backend)
	}
	if cfg.Timing.Unit != 10*time.Millisecond {
		t.Errorf("Expected 10ms unit, got %s", cfg.Timing.Unit)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
server:
  port: 9000
ledger:
  backend: redis
redis:
  addr: localhost:6379
reddit:
  user_agent: test-agent
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Ledger.Backend != "redis" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected file values, got %+v", cfg)
	}
	if cfg.Reddit.UserAgent != "test-agent" {
		t.Errorf("Expected user agent from file, got '%s'", cfg.Reddit.UserAgent)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected an error for an explicit config path that does not exist")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 5000},
			Budget: BudgetConfig{DailyTokenLimit: 100},
			Ledger: LedgerConfig{Backend: "file", Path: "usage.json"},
			Timing: TimingConfig{Unit: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative limit", func(c *Config) { c.Budget.DailyTokenLimit = -1 }, "daily_token_limit"},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "etcd" }, "ledger.backend"},
		{"file without path", func(c *Config) { c.Ledger.Path = " " }, "ledger.path"},
		{"redis without addr", func(c *Config) { c.Ledger.Backend = "redis" }, "redis.addr"},
		{"zero unit", func(c *Config) { c.Timing.Unit = 0 }, "timing.unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTimingUnits(t *testing.T) {
	timing := TimingConfig{Unit: 10 * time.Millisecond}
	if got := timing.Units(15); got != 150*time.Millisecond {
		t.Errorf("Expected 150ms, got %s", got)
	}
}
