// Package config loads YogaTable's runtime settings: the index-row
// overflow policy, the maintainer's timing knobs, and the adaptive
// batch-size caps. A YAML file is read through a viper instance created
// per Load call; environment variables prefixed YOGATABLE_ take precedence,
// mirroring the env-override convention used throughout the config
// surface this package is adapted from.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

// Config bundles every knob named in §4.2 and §4.4.
type Config struct {
	MaxIndexRowCount  int    `mapstructure:"max_index_row_count"`
	MaxIndexRowLength int    `mapstructure:"max_index_row_length"`
	TooManyRows       string `mapstructure:"too_many_rows"`
	RowTooLong        string `mapstructure:"row_too_long"`

	DesiredLatency       time.Duration `mapstructure:"desired_latency"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	MinimumVacuumBlocks  int           `mapstructure:"minimum_vacuum_blocks"`
	MaxIndexBatch        int           `mapstructure:"max_index_batch"`
	MaxDeleteBatch       int           `mapstructure:"max_delete_batch"`
	MaxVacuumBatch       int           `mapstructure:"max_vacuum_batch"`
}

// Defaults matches the values named throughout §4.2/§4.4.
func Defaults() Config {
	return Config{
		MaxIndexRowCount:    100,
		MaxIndexRowLength:   512,
		TooManyRows:         "fail",
		RowTooLong:          "fail",
		DesiredLatency:      10 * time.Millisecond,
		IdleTimeout:         25 * time.Millisecond,
		MinimumVacuumBlocks: 1000,
		MaxIndexBatch:       100,
		MaxDeleteBatch:      5000,
		MaxVacuumBatch:      5000,
	}
}

// Load reads path (if it exists) through viper, applies YOGATABLE_*
// environment overrides, and returns the merged configuration. A
// missing file is not an error: defaults plus env overrides apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("yogatable")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("max_index_row_count", cfg.MaxIndexRowCount)
	v.SetDefault("max_index_row_length", cfg.MaxIndexRowLength)
	v.SetDefault("too_many_rows", cfg.TooManyRows)
	v.SetDefault("row_too_long", cfg.RowTooLong)
	v.SetDefault("desired_latency", cfg.DesiredLatency)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("minimum_vacuum_blocks", cfg.MinimumVacuumBlocks)
	v.SetDefault("max_index_batch", cfg.MaxIndexBatch)
	v.SetDefault("max_delete_batch", cfg.MaxDeleteBatch)
	v.SetDefault("max_vacuum_batch", cfg.MaxVacuumBatch)
}

// IndexRowPolicy translates the loaded TooManyRows/RowTooLong strings
// into the enums internal/indexrow.Generate expects. Unknown strings
// fall back to the fail-closed variant.
func (c Config) IndexRowPolicy() indexrow.Policy {
	p := indexrow.Policy{
		MaxIndexRowCount:  c.MaxIndexRowCount,
		MaxIndexRowLength: c.MaxIndexRowLength,
		TooManyRows:       indexrow.TooManyRowsFail,
		RowTooLong:        indexrow.RowTooLongFail,
	}
	if strings.EqualFold(c.TooManyRows, "discard") {
		p.TooManyRows = indexrow.TooManyRowsDiscard
	}
	switch strings.ToLower(c.RowTooLong) {
	case "discard":
		p.RowTooLong = indexrow.RowTooLongDiscard
	case "truncate":
		p.RowTooLong = indexrow.RowTooLongTruncate
	}
	return p
}
