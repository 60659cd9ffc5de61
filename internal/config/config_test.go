package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Scorer.BaseURL = "http://localhost:9100"
	return cfg
}

func TestDefaultsValidateWithScorer(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults plus scorer url should validate: %v", err)
	}
}

func TestMonitorModeNeedsNoScorer(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("monitor mode must not require a scorer: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"missing clob host", func(c *Config) { c.Polymarket.ClobHost = "" }, "clob_host"},
		{"bad signature type", func(c *Config) { c.Polymarket.SignatureType = 3 }, "signature_type"},
		{"missing scorer in trade mode", func(c *Config) { c.Mode = "trade"; c.Scorer.BaseURL = "" }, "scorer"},
		{"bad db port", func(c *Config) { c.Database.Port = 70000 }, "database: port"},
		{"pool min over max", func(c *Config) { c.Database.PoolMinConns = 50 }, "pool_min_conns"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"funding poll too fast", func(c *Config) { c.Engine.FundingPollInterval = duration{time.Second} }, "funding_poll_interval"},
		{"zero multiplier", func(c *Config) { c.Engine.DefaultMultiplier = 0 }, "default_multiplier"},
		{"zero tick interval", func(c *Config) { c.Scheduler.TickInterval = duration{} }, "tick_interval"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" }, "s3: bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "unknown mode") || !strings.Contains(err.Error(), "redis: addr") {
		t.Errorf("error should list every problem, got: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"
log_level = "debug"

[engine]
signal_poll_interval = "5s"
default_max_notional = 250.0

[scheduler]
venue_rate_limit = 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "monitor" || cfg.LogLevel != "debug" {
		t.Errorf("top-level fields not applied: mode=%q level=%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Engine.SignalPollInterval.Duration != 5*time.Second {
		t.Errorf("duration string not parsed: %v", cfg.Engine.SignalPollInterval.Duration)
	}
	if cfg.Engine.DefaultMaxNotional != 250 {
		t.Errorf("default_max_notional = %v, want 250", cfg.Engine.DefaultMaxNotional)
	}
	if cfg.Scheduler.VenueRateLimit != 60 {
		t.Errorf("venue_rate_limit = %d, want 60", cfg.Scheduler.VenueRateLimit)
	}

	// Untouched sections keep their defaults.
	if cfg.Polymarket.ChainID != 137 {
		t.Errorf("chain_id = %d, want default 137", cfg.Polymarket.ChainID)
	}
	if cfg.Engine.WatchdogInterval.Duration != 10*time.Second {
		t.Errorf("watchdog_interval = %v, want default 10s", cfg.Engine.WatchdogInterval.Duration)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `mode = [broken`)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed TOML must fail to load")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfigFile(t, `
[database]
password = "from-file"

[redis]
addr = "file:6379"
`)

	t.Setenv("COPYBOT_DATABASE_PASSWORD", "from-env")
	t.Setenv("COPYBOT_REDIS_ADDR", "env:6379")
	t.Setenv("COPYBOT_ENGINE_SIGNAL_POLL_INTERVAL", "7s")
	t.Setenv("COPYBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("COPYBOT_ARCHIVE_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Password != "from-env" {
		t.Errorf("password = %q, want env override", cfg.Database.Password)
	}
	if cfg.Redis.Addr != "env:6379" {
		t.Errorf("redis addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Engine.SignalPollInterval.Duration != 7*time.Second {
		t.Errorf("signal_poll_interval = %v, want 7s from env", cfg.Engine.SignalPollInterval.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v, want trimmed two-element list", cfg.Server.CORSOrigins)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive.enabled not set from env")
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	cfg := Defaults()
	t.Setenv("COPYBOT_POLYMARKET_CHAIN_ID", "not-a-number")
	t.Setenv("COPYBOT_ENGINE_WATCHDOG_INTERVAL", "soon")
	applyEnvOverrides(&cfg)

	if cfg.Polymarket.ChainID != 137 {
		t.Errorf("chain_id = %d, unparseable env value must be ignored", cfg.Polymarket.ChainID)
	}
	if cfg.Engine.WatchdogInterval.Duration != 10*time.Second {
		t.Errorf("watchdog_interval = %v, unparseable env value must be ignored", cfg.Engine.WatchdogInterval.Duration)
	}
}
