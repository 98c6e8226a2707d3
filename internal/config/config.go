// Package config loads the static process configuration for bracketd from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level static configuration for the bracketd process.
// Runtime order settings (overrides, timeouts, feature flags) live in a
// separate document managed by the settings store.
type Config struct {
	Server   Server        `yaml:"server"`
	Venue    Venue         `yaml:"venue"`
	Logging  Logging       `yaml:"logging"`
	Trading  Trading       `yaml:"trading"`
	Settings SettingsStore `yaml:"settings"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Venue selects and configures the venue client implementation.
type Venue struct {
	// Provider is "sim" for the in-process simulator or "alpaca" for the
	// live adapter.
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`

	// KeepAliveSeconds is the interval of the connectivity check loop.
	KeepAliveSeconds int `yaml:"keep_alive_seconds"`

	// StatusPollPerMin rate-limits order status polls against the live
	// venue API.
	StatusPollPerMin int `yaml:"status_poll_per_min"`

	// SimAutoFill makes the simulator fill entries at their limit price and
	// resolve brackets via the take-profit leg, for paper runs.
	SimAutoFill bool `yaml:"sim_auto_fill"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Trading holds instrument and P&L constants.
type Trading struct {
	// TickSize is the default minimum price increment.
	TickSize float64 `yaml:"tick_size"`

	// TickValue is the dollar value per price point used in realized P&L.
	TickValue float64 `yaml:"tick_value"`

	// CommissionPerContract is charged once per contract per leg.
	CommissionPerContract float64 `yaml:"commission_per_contract"`

	// TickSizes overrides TickSize per symbol.
	TickSizes map[string]float64 `yaml:"tick_sizes"`

	// SymbolAliases maps signal-source symbols to venue symbols,
	// e.g. the continuous-contract alias NQ1! -> NQ.
	SymbolAliases map[string]string `yaml:"symbol_aliases"`
}

// SettingsStore locates the runtime order settings document.
type SettingsStore struct {
	Path                  string `yaml:"path"`
	ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Venue.Provider == "" {
		c.Venue.Provider = "sim"
	}
	if c.Venue.KeepAliveSeconds == 0 {
		c.Venue.KeepAliveSeconds = 10
	}
	if c.Venue.StatusPollPerMin == 0 {
		c.Venue.StatusPollPerMin = 600
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Trading.TickSize == 0 {
		c.Trading.TickSize = 0.25
	}
	if c.Trading.TickValue == 0 {
		c.Trading.TickValue = 20
	}
	if c.Trading.CommissionPerContract == 0 {
		c.Trading.CommissionPerContract = 2.25
	}
	if c.Settings.Path == "" {
		c.Settings.Path = "config/settings.yaml"
	}
	if c.Settings.ReloadIntervalSeconds == 0 {
		c.Settings.ReloadIntervalSeconds = 3
	}
}

func (c *Config) validate() error {
	switch c.Venue.Provider {
	case "sim", "alpaca":
	default:
		return fmt.Errorf("unknown venue provider %q", c.Venue.Provider)
	}
	if c.Trading.TickSize <= 0 {
		return fmt.Errorf("trading.tick_size must be positive")
	}
	return nil
}

// TickSizeFor returns the tick size configured for symbol, falling back to
// the default tick size.
func (t Trading) TickSizeFor(symbol string) float64 {
	if ts, ok := t.TickSizes[symbol]; ok && ts > 0 {
		return ts
	}
	return t.TickSize
}

// ResolveAlias maps a signal-source symbol to its venue symbol.
func (t Trading) ResolveAlias(symbol string) string {
	if mapped, ok := t.SymbolAliases[symbol]; ok && mapped != "" {
		return mapped
	}
	return symbol
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRACKETD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BRACKETD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BRACKETD_SETTINGS"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VENUE_PROVIDER"); v != "" {
		cfg.Venue.Provider = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Venue.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
}
