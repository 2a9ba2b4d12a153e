// Package config loads engine configuration from a YAML file via viper.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Replacement strategy names accepted by buffer.replacement_strategy.
const (
	StrategyRandom = "random"
	StrategyLRU    = "lru"
	StrategyLRUK   = "lru-k"
	StrategyLFU    = "lfu"
	StrategyClock  = "clock"
)

// Config holds all startup knobs. Page size and B+-tree node size are
// compile-time constants (storage.PageSize, bplustree.TreePageSize) and are
// intentionally absent here.
type Config struct {
	Storage struct {
		File     string `mapstructure:"file"`
		DirectIO bool   `mapstructure:"direct_io"`
	} `mapstructure:"storage"`
	Buffer struct {
		Frames              int    `mapstructure:"frames"`
		ReplacementStrategy string `mapstructure:"replacement_strategy"`
		LRUK                int    `mapstructure:"lru_k"`
	} `mapstructure:"buffer"`
	Scan struct {
		PageLimit int `mapstructure:"page_limit"`
	} `mapstructure:"scan"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.File = "waxdb.data"
	cfg.Buffer.Frames = 256
	cfg.Buffer.ReplacementStrategy = StrategyRandom
	cfg.Buffer.LRUK = 2
	cfg.Scan.PageLimit = 64
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the configuration file at path and overlays it onto Default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	defaults := Default()
	v.SetDefault("storage.file", defaults.Storage.File)
	v.SetDefault("storage.direct_io", defaults.Storage.DirectIO)
	v.SetDefault("buffer.frames", defaults.Buffer.Frames)
	v.SetDefault("buffer.replacement_strategy", defaults.Buffer.ReplacementStrategy)
	v.SetDefault("buffer.lru_k", defaults.Buffer.LRUK)
	v.SetDefault("scan.page_limit", defaults.Scan.PageLimit)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.pretty", defaults.Log.Pretty)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.Frames < 1 {
		return fmt.Errorf("config: buffer.frames must be positive, got %d", c.Buffer.Frames)
	}
	switch c.Buffer.ReplacementStrategy {
	case StrategyRandom, StrategyLRU, StrategyLRUK, StrategyLFU, StrategyClock:
	default:
		return fmt.Errorf("config: unknown buffer.replacement_strategy %q", c.Buffer.ReplacementStrategy)
	}
	if c.Buffer.LRUK < 1 {
		return fmt.Errorf("config: buffer.lru_k must be positive, got %d", c.Buffer.LRUK)
	}
	if c.Scan.PageLimit < 1 {
		return fmt.Errorf("config: scan.page_limit must be positive, got %d", c.Scan.PageLimit)
	}
	return nil
}
