// Package config loads the working-memory configuration surface.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	WorkingMemory WorkingMemoryConfig `yaml:"working_memory"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// DatabaseConfig locates the SQLite file shared by the entry and long-term stores.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkingMemoryConfig holds capacity, TTL, and promotion policy.
type WorkingMemoryConfig struct {
	MaxEntriesPerSession     int     `yaml:"max_entries_per_session"`
	MaxTotalEntries          int     `yaml:"max_total_entries"`
	DefaultTTLMinutes        float64 `yaml:"default_ttl_minutes"`
	MinTTLMinutes            float64 `yaml:"min_ttl_minutes"`
	MaxTTLMinutes            float64 `yaml:"max_ttl_minutes"`
	HighImportanceThreshold  float64 `yaml:"high_importance_threshold"`
	LowImportanceThreshold   float64 `yaml:"low_importance_threshold"`
	CleanupIntervalMinutes   float64 `yaml:"cleanup_interval_minutes"`
	PressureCleanupThreshold float64 `yaml:"pressure_cleanup_threshold"`
	PromotionAccessThreshold int     `yaml:"promotion_access_threshold"`
	ImportanceBoostOnAccess  float64 `yaml:"importance_boost_on_access"`
	PromotionImportanceBoost float64 `yaml:"promotion_importance_boost"`
	MaxSweepEvictions        int     `yaml:"max_sweep_evictions"`
	PromotionBatchSize       int     `yaml:"promotion_batch_size"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the HTTP listener used by serve.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkingMemory: DefaultWorkingMemory(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// DefaultWorkingMemory returns the default working-memory policy.
func DefaultWorkingMemory() WorkingMemoryConfig {
	return WorkingMemoryConfig{
		MaxEntriesPerSession:     50,
		MaxTotalEntries:          1000,
		DefaultTTLMinutes:        30,
		MinTTLMinutes:            5,
		MaxTTLMinutes:            240,
		HighImportanceThreshold:  0.8,
		LowImportanceThreshold:   0.3,
		CleanupIntervalMinutes:   15,
		PressureCleanupThreshold: 0.8,
		PromotionAccessThreshold: 3,
		ImportanceBoostOnAccess:  0.1,
		PromotionImportanceBoost: 0.1,
		MaxSweepEvictions:        100,
		PromotionBatchSize:       20,
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the whole document.
func (c *Config) Validate() error {
	if err := c.WorkingMemory.Validate(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Validate checks the working-memory policy for internal consistency.
func (w WorkingMemoryConfig) Validate() error {
	if w.MaxEntriesPerSession < 1 {
		return fmt.Errorf("max_entries_per_session must be at least 1")
	}
	if w.MaxTotalEntries < 1 {
		return fmt.Errorf("max_total_entries must be at least 1")
	}
	if w.MinTTLMinutes <= 0 || w.MinTTLMinutes > w.DefaultTTLMinutes || w.DefaultTTLMinutes > w.MaxTTLMinutes {
		return fmt.Errorf("ttl bounds must satisfy 0 < min (%v) <= default (%v) <= max (%v)",
			w.MinTTLMinutes, w.DefaultTTLMinutes, w.MaxTTLMinutes)
	}
	if w.LowImportanceThreshold < 0 || w.LowImportanceThreshold >= w.HighImportanceThreshold || w.HighImportanceThreshold > 1 {
		return fmt.Errorf("importance thresholds must satisfy 0 <= low (%v) < high (%v) <= 1",
			w.LowImportanceThreshold, w.HighImportanceThreshold)
	}
	if w.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("cleanup_interval_minutes must be positive")
	}
	if w.PressureCleanupThreshold <= 0 || w.PressureCleanupThreshold > 1 {
		return fmt.Errorf("pressure_cleanup_threshold must be in (0, 1]")
	}
	if w.PromotionAccessThreshold < 1 {
		return fmt.Errorf("promotion_access_threshold must be at least 1")
	}
	if w.ImportanceBoostOnAccess < 0 || w.PromotionImportanceBoost < 0 {
		return fmt.Errorf("importance boosts must not be negative")
	}
	if w.MaxSweepEvictions < 1 || w.PromotionBatchSize < 1 {
		return fmt.Errorf("max_sweep_evictions and promotion_batch_size must be at least 1")
	}
	return nil
}

// CleanupInterval is the sweep period as a duration.
func (w WorkingMemoryConfig) CleanupInterval() time.Duration {
	return minutes(w.CleanupIntervalMinutes)
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
