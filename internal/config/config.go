package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/transmcap/transmcap/internal/columnar"
	"github.com/transmcap/transmcap/internal/export"
	"github.com/transmcap/transmcap/internal/pipeline"
)

// Config holds the full application configuration
type Config struct {
	Convert ConvertConfig
	Log     LogConfig
}

// ConvertConfig holds defaults for the convert command. Flags override
// these values; the config file and TRANSMCAP_* environment variables
// fill in whatever the command line leaves unset.
type ConvertConfig struct {
	Format          string // Output format: jsonl, csv, or parquet
	BatchSize       int    // Rows per emitted batch
	ListPolicy      string // keep, drop, or flatten-fixed
	ArrayPolicy     string // keep, drop, or flatten
	MapPolicy       string // keep or drop
	ListFlattenSize int    // Required column count for flatten-fixed
	Output          string // Output path template; "-" writes to stdout
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("TRANSMCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("transmcap")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/transmcap/")
	v.AddConfigPath("$HOME/.transmcap/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Convert: ConvertConfig{
			Format:          v.GetString("convert.format"),
			BatchSize:       v.GetInt("convert.batch_size"),
			ListPolicy:      v.GetString("convert.list_policy"),
			ArrayPolicy:     v.GetString("convert.array_policy"),
			MapPolicy:       v.GetString("convert.map_policy"),
			ListFlattenSize: v.GetInt("convert.list_flatten_size"),
			Output:          v.GetString("convert.output"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Convert.Format != "" {
		found := false
		for _, f := range export.Formats {
			if c.Convert.Format == f {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("convert.format: unsupported format %q (supported: %s)",
				c.Convert.Format, strings.Join(export.Formats, ", "))
		}
	}
	if c.Convert.BatchSize <= 0 {
		return fmt.Errorf("convert.batch_size must be positive, got %d", c.Convert.BatchSize)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy translates the configured flatten settings into a column policy.
// Empty policy strings fall back to the per-format defaults; the struct
// policy is always fixed by the output format.
func (c *Config) Policy() (columnar.Policy, error) {
	p, err := columnar.DefaultPolicy(c.Convert.Format)
	if err != nil {
		return columnar.Policy{}, err
	}

	if c.Convert.ListPolicy != "" {
		lp, err := columnar.ParseListPolicy(c.Convert.ListPolicy)
		if err != nil {
			return columnar.Policy{}, fmt.Errorf("convert.list_policy: %w", err)
		}
		p.Lists = lp
	}
	if c.Convert.ArrayPolicy != "" {
		ap, err := columnar.ParseArrayPolicy(c.Convert.ArrayPolicy)
		if err != nil {
			return columnar.Policy{}, fmt.Errorf("convert.array_policy: %w", err)
		}
		p.Arrays = ap
	}
	if c.Convert.MapPolicy != "" {
		mp, err := columnar.ParseMapPolicy(c.Convert.MapPolicy)
		if err != nil {
			return columnar.Policy{}, fmt.Errorf("convert.map_policy: %w", err)
		}
		p.Maps = mp
	}

	p.ListFlattenSize = c.Convert.ListFlattenSize
	if err := p.Validate(); err != nil {
		return columnar.Policy{}, err
	}
	return p, nil
}

func setDefaults(v *viper.Viper) {
	// Convert defaults
	v.SetDefault("convert.format", "jsonl")
	v.SetDefault("convert.batch_size", pipeline.DefaultBatchSize)
	v.SetDefault("convert.list_policy", "")  // Empty = per-format default
	v.SetDefault("convert.array_policy", "") // Empty = per-format default
	v.SetDefault("convert.map_policy", "")   // Empty = per-format default
	v.SetDefault("convert.list_flatten_size", 0)
	v.SetDefault("convert.output", "-")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
