package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// LoadScraperEnv overlays OPENBOOKS_SCRAPER_* variables on cfg. Call it before
// defining flags so command-line values still win.
func LoadScraperEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix + "_SCRAPER")
	v.AutomaticEnv()

	ints := []struct {
		key string
		dst *int
	}{
		{"pages", &cfg.MaxPages},
		{"parallel", &cfg.Parallelism},
	}
	for _, f := range ints {
		if !v.IsSet(f.key) {
			continue
		}
		n, err := cast.ToIntE(strings.TrimSpace(v.GetString(f.key)))
		if err != nil {
			return fmt.Errorf("invalid %s_SCRAPER_%s: %w", EnvPrefix, strings.ToUpper(f.key), err)
		}
		*f.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"output", &cfg.OutputFile},
		{"category", &cfg.Category},
		{"metrics_addr", &cfg.MetricsAddr},
	}
	for _, f := range strs {
		if value := strings.TrimSpace(v.GetString(f.key)); value != "" {
			*f.dst = value
		}
	}
	return nil
}
