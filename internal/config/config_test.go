package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file failed: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
openai:
  api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Trading.Symbol != "BTC/USDT:USDT" {
		t.Errorf("unexpected default symbol %q", cfg.Trading.Symbol)
	}
	if cfg.Trading.InitialBalance != 10000 {
		t.Errorf("unexpected default initial balance %f", cfg.Trading.InitialBalance)
	}
	if cfg.Trading.MaxLeverage != 20 {
		t.Errorf("unexpected default max leverage %d", cfg.Trading.MaxLeverage)
	}
	if cfg.Trading.PriceMaxAge != 90*time.Second {
		t.Errorf("unexpected default price max age %s", cfg.Trading.PriceMaxAge)
	}
	if cfg.Scheduler.CycleInterval != 15*time.Minute {
		t.Errorf("unexpected default cycle interval %s", cfg.Scheduler.CycleInterval)
	}
	if cfg.Server.Port != 8780 {
		t.Errorf("unexpected default server port %d", cfg.Server.Port)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
trading:
  symbol: "ETH/USDT:USDT"
  initial_balance: 5000
  max_leverage: 10
  price_max_age: 2m
openai:
  api_key: test-key
scheduler:
  cycle_interval: 1h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Trading.Symbol != "ETH/USDT:USDT" {
		t.Errorf("unexpected symbol %q", cfg.Trading.Symbol)
	}
	if cfg.Trading.InitialBalance != 5000 {
		t.Errorf("unexpected initial balance %f", cfg.Trading.InitialBalance)
	}
	if cfg.Trading.PriceMaxAge != 2*time.Minute {
		t.Errorf("unexpected price max age %s", cfg.Trading.PriceMaxAge)
	}
	if cfg.Scheduler.CycleInterval != time.Hour {
		t.Errorf("unexpected cycle interval %s", cfg.Scheduler.CycleInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRADES_OPENAI_API_KEY", "env-key")

	path := writeConfigFile(t, `
app:
  environment: production
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("expected api key from environment, got %q", cfg.OpenAI.APIKey)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
trading:
  initial_balance: -1
  min_position_percent: 2
openai:
  api_key: test-key
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for invalid config")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
