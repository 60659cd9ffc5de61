package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "COPYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "COPYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Scorer ──
	setStr(&cfg.Scorer.BaseURL, "COPYBOT_SCORER_BASE_URL")
	setStr(&cfg.Scorer.ApiKey, "COPYBOT_SCORER_API_KEY")
	setDuration(&cfg.Scorer.Timeout, "COPYBOT_SCORER_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "COPYBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "COPYBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COPYBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COPYBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "COPYBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "COPYBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COPYBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "COPYBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COPYBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COPYBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Engine defaults ──
	setFloat64(&cfg.Engine.MinFundingUSD, "COPYBOT_ENGINE_MIN_FUNDING_USD")
	setDuration(&cfg.Engine.FundingPollInterval, "COPYBOT_ENGINE_FUNDING_POLL_INTERVAL")
	setDuration(&cfg.Engine.SignalPollInterval, "COPYBOT_ENGINE_SIGNAL_POLL_INTERVAL")
	setDuration(&cfg.Engine.WatchdogInterval, "COPYBOT_ENGINE_WATCHDOG_INTERVAL")
	setDuration(&cfg.Engine.SweepDebounce, "COPYBOT_ENGINE_SWEEP_DEBOUNCE")
	setDuration(&cfg.Engine.ReconcileThrottle, "COPYBOT_ENGINE_RECONCILE_THROTTLE")
	setFloat64(&cfg.Engine.DefaultMultiplier, "COPYBOT_ENGINE_DEFAULT_MULTIPLIER")
	setFloat64(&cfg.Engine.DefaultMaxNotional, "COPYBOT_ENGINE_DEFAULT_MAX_NOTIONAL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "COPYBOT_SCHEDULER_TICK_INTERVAL")
	setInt(&cfg.Scheduler.VenueRateLimit, "COPYBOT_SCHEDULER_VENUE_RATE_LIMIT")
	setDuration(&cfg.Scheduler.VenueRateWindow, "COPYBOT_SCHEDULER_VENUE_RATE_WINDOW")
	setBool(&cfg.Scheduler.FeedEnabled, "COPYBOT_SCHEDULER_FEED_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COPYBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "COPYBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COPYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
