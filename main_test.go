package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defer slog.SetDefault(slog.Default())

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func testAppConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Budget:   BudgetConfig{DailyTokenLimit: 1000},
		Ledger:   LedgerConfig{Backend: "file", Path: filepath.Join(dir, "usage.json")},
		Database: DatabaseConfig{Path: filepath.Join(dir, "history.db")},
		Redis:    RedisConfig{Key: "reddit-plan:usage"},
		Reddit:   RedditConfig{BaseURL: "http://127.0.0.1:0", DetailBaseURL: "http://127.0.0.1:0", UserAgent: "test"},
		Timing:   TimingConfig{Unit: 1},
	}
}

func TestSetupLogging(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	setupLogging(&buf, LogConfig{Level: "warn", Format: "json"}, false)
	slog.Info("hidden")
	slog.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &record); err != nil {
		t.Fatalf("Expected a JSON log line, got %q", out)
	}
	if record["msg"] != "shown" || record["key"] != "value" {
		t.Errorf("Unexpected log record %v", record)
	}

	buf.Reset()
	setupLogging(&buf, LogConfig{Level: "error"}, true)
	slog.Debug("debug line")
	if !strings.Contains(buf.String(), "debug line") {
		t.Error("Debug flag should override the configured level")
	}
}

func TestNewApp_LedgerBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		a, err := newApp(ctx, testAppConfig(t))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer a.Close()
		if _, ok := a.planner.budget.store.(*FileLedgerStore); !ok {
			t.Errorf("Expected file ledger store, got %T", a.planner.budget.store)
		}
		if a.historyReader() == nil {
			t.Error("Expected history to be enabled")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testAppConfig(t)
		cfg.Ledger.Backend = "sqlite"
		a, err := newApp(ctx, cfg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer a.Close()
		if a.planner.budget.store != LedgerStore(a.db) {
			t.Errorf("Expected the database to back the ledger, got %T", a.planner.budget.store)
		}
	})

	t.Run("sqlite without database", func(t *testing.T) {
		cfg := testAppConfig(t)
		cfg.Ledger.Backend = "sqlite"
		cfg.Database.Path = ""
		if _, err := newApp(ctx, cfg); err == nil {
			t.Error("Expected error when the sqlite ledger has no database")
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testAppConfig(t)
		cfg.Ledger.Backend = "redis"
		cfg.Redis.Addr = mr.Addr()
		a, err := newApp(ctx, cfg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer a.Close()

		a.planner.budget.Commit(ctx, 42)
		if got := mr.HGet(cfg.Redis.Key, "tokens"); got != "42" {
			t.Errorf("Expected 42 tokens in redis, got '%s'", got)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testAppConfig(t)
		cfg.Ledger.Backend = "redis"
		cfg.Redis.Addr = addr
		if _, err := newApp(ctx, cfg); err == nil {
			t.Error("Expected error when redis is unreachable")
		}
	})
}

func TestCLI_Search(t *testing.T) {
	server := newFakeReddit(t, searchFeedMissingLink, map[string]int{
		"/r/foo/comments/aaa111/first_post/":  5,
		"/r/foo/comments/ccc333/second_post/": 9,
	})
	dir := t.TempDir()
	config := writeTestConfig(t, fmt.Sprintf(`
ledger:
  path: %s
database:
  path: %s
reddit:
  base_url: %s
  detail_base_url: %s
timing:
  unit: 50ms
`, filepath.Join(dir, "usage.json"), filepath.Join(dir, "history.db"), server.URL, server.URL))

	out, err := runCLI(t, "--config", config, "search", "foo", "bar")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var result SearchResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Expected JSON output, got %q", out)
	}
	if len(result.Items) != 2 || result.Items[0].Score != 9 {
		t.Errorf("Expected 2 ranked items led by score 9, got %+v", result.Items)
	}

	out, err = runCLI(t, "--config", config, "history", "--limit", "1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("Expected JSON output, got %q", out)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(entries))
	}

	out, err = runCLI(t, "--config", config, "search", "--atom", "foo", "bar")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "<feed") || !strings.Contains(out, "Second post") {
		t.Errorf("Expected an Atom feed, got %q", out)
	}
}

func TestCLI_Usage(t *testing.T) {
	ledgerPath := writeLedgerFile(t, fmt.Sprintf(`{"date":"%s","tokens":300}`, time.Now().UTC().Format(ledgerDateLayout)))
	config := writeTestConfig(t, fmt.Sprintf(`
budget:
  daily_token_limit: 1000
ledger:
  path: %s
database:
  path: ""
`, ledgerPath))

	out, err := runCLI(t, "--config", config, "usage")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var usage usageResponse
	if err := json.Unmarshal([]byte(out), &usage); err != nil {
		t.Fatalf("Expected JSON output, got %q", out)
	}
	if usage.Tokens != 300 || usage.Limit != 1000 || usage.Remaining != 700 {
		t.Errorf("Expected 300 used of 1000, got %+v", usage)
	}

	if _, err := runCLI(t, "--config", config, "history"); err == nil {
		t.Error("Expected history to fail without a database")
	}
	if _, err := runCLI(t, "--config", config, "history", "--limit", "-1"); err == nil {
		t.Error("Expected history to reject a negative limit")
	}
}

func TestCLI_PlanInvalidPermalink(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	config := writeTestConfig(t, fmt.Sprintf(`
ledger:
  path: %s
database:
  path: ""
`, filepath.Join(t.TempDir(), "usage.json")))

	if _, err := runCLI(t, "--config", config, "plan", "not-a-permalink"); err == nil {
		t.Error("Expected error for an invalid permalink")
	}
}

func TestCLI_MissingConfigFile(t *testing.T) {
	if _, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "usage"); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}
}
