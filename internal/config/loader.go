package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BANDKEEPER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// LoadBandsFile reads and parses the hot-reloadable bands document.
func LoadBandsFile(path string) (*BandsFile, error) {
	var f BandsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// applyEnvOverrides reads well-known BANDKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Venue.BaseURL, "BANDKEEPER_VENUE_BASE_URL")
	setStr(&cfg.Venue.APIKey, "BANDKEEPER_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "BANDKEEPER_VENUE_API_SECRET")
	setStr(&cfg.Venue.BaseToken, "BANDKEEPER_VENUE_BASE_TOKEN")
	setStr(&cfg.Venue.QuoteToken, "BANDKEEPER_VENUE_QUOTE_TOKEN")
	setDuration(&cfg.Venue.Timeout, "BANDKEEPER_VENUE_TIMEOUT")

	setStr(&cfg.Feed.WSURL, "BANDKEEPER_FEED_WS_URL")
	setDuration(&cfg.Feed.Expiry, "BANDKEEPER_FEED_EXPIRY")

	setDuration(&cfg.Keeper.TickInterval, "BANDKEEPER_KEEPER_TICK_INTERVAL")
	setBool(&cfg.Keeper.CancelOnShutdown, "BANDKEEPER_KEEPER_CANCEL_ON_SHUTDOWN")
	setDuration(&cfg.Keeper.ShutdownTimeout, "BANDKEEPER_KEEPER_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Keeper.FinalWaitTime, "BANDKEEPER_KEEPER_FINAL_WAIT_TIME")

	setDuration(&cfg.Book.RefreshInterval, "BANDKEEPER_BOOK_REFRESH_INTERVAL")
	setInt(&cfg.Book.MaxInFlight, "BANDKEEPER_BOOK_MAX_IN_FLIGHT")

	setStr(&cfg.Logging.Level, "BANDKEEPER_LOG_LEVEL")
	setStr(&cfg.Logging.File, "BANDKEEPER_LOG_FILE")

	setStr(&cfg.BandsFile, "BANDKEEPER_BANDS_FILE")
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
