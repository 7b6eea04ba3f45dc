// Package config defines the keeper configuration and provides validation
// helpers. The main config is loaded once at startup; the bands file is a
// separate document so operators can hot-reload it while the keeper runs.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/band"
	"github.com/quantshed/bandkeeper/internal/limiter"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BANDKEEPER_* environment
// variables.
type Config struct {
	Venue   VenueConfig   `toml:"venue"`
	Feed    FeedConfig    `toml:"feed"`
	Keeper  KeeperConfig  `toml:"keeper"`
	Book    BookConfig    `toml:"book"`
	Logging LoggingConfig `toml:"logging"`

	BandsFile string `toml:"bands_file"`
}

// VenueConfig holds the venue REST API endpoint and credentials.
type VenueConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	BaseToken  string   `toml:"base_token"`
	QuoteToken string   `toml:"quote_token"`
	Timeout    duration `toml:"timeout"`
}

// FeedConfig holds the target-price websocket feed parameters. Expiry is how
// long a received price stays trustworthy; past it the affected side is
// treated as having no price.
type FeedConfig struct {
	WSURL  string   `toml:"ws_url"`
	Expiry duration `toml:"expiry"`
}

// KeeperConfig holds the control-loop parameters.
type KeeperConfig struct {
	TickInterval     duration `toml:"tick_interval"`
	CancelOnShutdown bool     `toml:"cancel_on_shutdown"`
	ShutdownTimeout  duration `toml:"shutdown_timeout"`
	FinalWaitTime    duration `toml:"final_wait_time"`
}

// BookConfig holds the order-book manager parameters.
type BookConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
	MaxInFlight     int      `toml:"max_in_flight"`
}

// LoggingConfig controls log level and optional rotating file output.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config with sensible defaults applied. Loading a TOML
// file overlays values on top of these.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseToken:  "BASE",
			QuoteToken: "QUOTE",
			Timeout:    duration{10 * time.Second},
		},
		Feed: FeedConfig{
			Expiry: duration{2 * time.Minute},
		},
		Keeper: KeeperConfig{
			TickInterval:     duration{5 * time.Second},
			CancelOnShutdown: true,
			ShutdownTimeout:  duration{60 * time.Second},
		},
		Book: BookConfig{
			RefreshInterval: duration{5 * time.Second},
			MaxInFlight:     16,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		BandsFile: "bands.toml",
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("config: venue.base_url is required")
	}
	if c.Feed.WSURL == "" {
		return fmt.Errorf("config: feed.ws_url is required")
	}
	if c.BandsFile == "" {
		return fmt.Errorf("config: bands_file is required")
	}
	if c.Keeper.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: keeper.tick_interval must be positive")
	}
	if c.Book.RefreshInterval.Duration <= 0 {
		return fmt.Errorf("config: book.refresh_interval must be positive")
	}
	return nil
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding like "5s" or "2m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// BandConfig is one band entry in the bands file. Margins and amounts are
// quoted strings so they decode into exact decimals.
type BandConfig struct {
	MinMargin  decimal.Decimal `toml:"minMargin"`
	AvgMargin  decimal.Decimal `toml:"avgMargin"`
	MaxMargin  decimal.Decimal `toml:"maxMargin"`
	MinAmount  decimal.Decimal `toml:"minAmount"`
	AvgAmount  decimal.Decimal `toml:"avgAmount"`
	MaxAmount  decimal.Decimal `toml:"maxAmount"`
	DustCutoff decimal.Decimal `toml:"dustCutoff"`
}

// LimitConfig is one per-side throughput rule: at most Amount traded within
// each rolling Period ("30m", "1h", "1d", ...).
type LimitConfig struct {
	Amount decimal.Decimal `toml:"amount"`
	Period string          `toml:"period"`
}

// BandsFile is the hot-reloadable band configuration document.
type BandsFile struct {
	BuyBands   []BandConfig  `toml:"buyBands"`
	SellBands  []BandConfig  `toml:"sellBands"`
	BuyLimits  []LimitConfig `toml:"buyLimits"`
	SellLimits []LimitConfig `toml:"sellLimits"`
}

// Setup converts the parsed document into the band engine's structured form.
// Bad limit periods are configuration errors; band range violations surface
// later, at band construction.
func (f *BandsFile) Setup() (band.Setup, error) {
	setup := band.Setup{
		Buy:  make([]band.Range, 0, len(f.BuyBands)),
		Sell: make([]band.Range, 0, len(f.SellBands)),
	}
	for _, b := range f.BuyBands {
		setup.Buy = append(setup.Buy, bandRange(b))
	}
	for _, b := range f.SellBands {
		setup.Sell = append(setup.Sell, bandRange(b))
	}

	var err error
	if setup.BuyLimits, err = limitRules(f.BuyLimits); err != nil {
		return band.Setup{}, fmt.Errorf("config: buy limits: %w", err)
	}
	if setup.SellLimits, err = limitRules(f.SellLimits); err != nil {
		return band.Setup{}, fmt.Errorf("config: sell limits: %w", err)
	}
	return setup, nil
}

func bandRange(b BandConfig) band.Range {
	return band.Range{
		MinMargin:  b.MinMargin,
		AvgMargin:  b.AvgMargin,
		MaxMargin:  b.MaxMargin,
		MinAmount:  b.MinAmount,
		AvgAmount:  b.AvgAmount,
		MaxAmount:  b.MaxAmount,
		DustCutoff: b.DustCutoff,
	}
}

func limitRules(limits []LimitConfig) ([]limiter.Rule, error) {
	rules := make([]limiter.Rule, 0, len(limits))
	for _, l := range limits {
		window, err := limiter.ParseWindow(l.Period)
		if err != nil {
			return nil, err
		}
		rules = append(rules, limiter.Rule{MaxAmount: l.Amount, Window: window})
	}
	return rules, nil
}
