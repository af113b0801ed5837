// Package config loads process-wide settings: a .env file via godotenv,
// layered under viper for typed env binding. Missing required settings
// abort startup with a non-zero exit.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config is every environment-sourced setting the process needs at startup.
type Config struct {
	LogLevel   string `mapstructure:"log_level"`
	DataDir    string `mapstructure:"data_dir"`
	QuoteAsset string `mapstructure:"quote_asset"`

	SpotRESTBaseURL    string `mapstructure:"spot_rest_base_url"`
	FuturesRESTBaseURL string `mapstructure:"futures_rest_base_url"`
	SpotStreamBaseURL  string `mapstructure:"spot_stream_base_url"`
	FutStreamBaseURL   string `mapstructure:"fut_stream_base_url"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SMTPFrom     string `mapstructure:"smtp_from"`

	AdminUserIDs []string `mapstructure:"admin_user_ids"`
}

// Load reads .env (if present) then binds SENTINEL_-prefixed environment
// variables into Config, applying the defaults a local/dev run needs.
func Load() (*Config, error) {
	// A missing .env file is not fatal; the caller logs a warning if it wants to.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("quote_asset", "USDT")
	v.SetDefault("spot_rest_base_url", "https://api.binance.com")
	v.SetDefault("futures_rest_base_url", "https://fapi.binance.com")
	v.SetDefault("spot_stream_base_url", "wss://stream.binance.com:9443")
	v.SetDefault("fut_stream_base_url", "wss://fstream.binance.com")
	v.SetDefault("smtp_port", 587)

	for _, key := range []string{
		"log_level", "data_dir", "quote_asset",
		"spot_rest_base_url", "futures_rest_base_url", "spot_stream_base_url", "fut_stream_base_url",
		"smtp_host", "smtp_port", "smtp_username", "smtp_password", "smtp_from",
		"admin_user_ids",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if admin := v.GetString("admin_user_ids"); admin != "" && len(cfg.AdminUserIDs) == 0 {
		cfg.AdminUserIDs = strings.Split(admin, ",")
	}

	return &cfg, nil
}

// Validate checks the settings required for the process to start safely.
func (c *Config) Validate() error {
	if c.QuoteAsset == "" {
		return fmt.Errorf("quote_asset is required")
	}
	if c.SpotRESTBaseURL == "" || c.FuturesRESTBaseURL == "" {
		return fmt.Errorf("spot_rest_base_url and futures_rest_base_url are required")
	}
	if c.SpotStreamBaseURL == "" || c.FutStreamBaseURL == "" {
		return fmt.Errorf("spot_stream_base_url and fut_stream_base_url are required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.SMTPHost != "" && (c.SMTPUsername == "" || c.SMTPPassword == "" || c.SMTPFrom == "") {
		return fmt.Errorf("smtp_username, smtp_password, and smtp_from are required when smtp_host is set")
	}
	return nil
}

// ParseLogLevel maps the configured level string to a zerolog.Level,
// defaulting to info on an unrecognized value.
func ParseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
