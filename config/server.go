package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every server environment variable, e.g. OPENBOOKS_DATA_CSV.
const EnvPrefix = "OPENBOOKS"

// ServerConfig holds settings for the catalog API.
type ServerConfig struct {
	DataCSV      string `mapstructure:"data_csv"`
	Addr         string `mapstructure:"addr"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
	Verbose      bool   `mapstructure:"verbose"`

	// CORSOrigin is echoed in Access-Control-Allow-Origin; empty disables CORS.
	CORSOrigin string `mapstructure:"cors_origin"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// DefaultServerConfig returns defaults matching the crawler's output path.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		DataCSV:      DefaultConfig().OutputFile,
		Addr:         ":8000",
		MetricsAddr:  "",
		DefaultLimit: 100,
		MaxLimit:     1000,
		Verbose:      false,
		CORSOrigin:   "*",
		RateBurst:    20,
	}
}

// LoadServerConfig overlays an optional env file and OPENBOOKS_* variables on
// the defaults. envFile may be empty.
func LoadServerConfig(envFile string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	v := viper.New()
	v.SetDefault("data_csv", cfg.DataCSV)
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("default_limit", cfg.DefaultLimit)
	v.SetDefault("max_limit", cfg.MaxLimit)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("cors_origin", cfg.CORSOrigin)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("rate_burst", cfg.RateBurst)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
		// Prefixed names in the env file act as defaults so the real
		// environment still wins.
		prefix := strings.ToLower(EnvPrefix) + "_"
		for _, key := range v.AllKeys() {
			if short, ok := strings.CutPrefix(key, prefix); ok {
				v.SetDefault(short, v.Get(key))
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	return cfg, nil
}

// Validate ensures all server settings are coherent.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.DataCSV) == "" {
		return fmt.Errorf("data csv path cannot be empty")
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MaxLimit <= 0 {
		return fmt.Errorf("max limit must be positive")
	}
	if c.DefaultLimit <= 0 || c.DefaultLimit > c.MaxLimit {
		return fmt.Errorf("default limit must be between 1 and max limit (%d)", c.MaxLimit)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}
	return nil
}
