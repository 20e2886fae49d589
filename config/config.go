// Package config defines the engine's tunable capacities and loads them
// from an optional config file via viper, falling back to the documented
// defaults when no file path is given. Environment variables are not read.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const (
	defaultFanout           = 10
	defaultMemtableCapacity = 4 << 20  // 4 MiB
	defaultSSTableCapacity  = 16 << 20 // 16 MiB
	defaultRunCapacity      = 4
	defaultMaxLevels        = 4
	defaultDataDir          = "./lsmkv-data"
)

// Config carries the engine's five enumerated options plus the data
// directory they operate within.
type Config struct {
	Fanout           int    `mapstructure:"fanout"`
	MemtableCapacity int64  `mapstructure:"memtable_capacity"`
	SSTableCapacity  int64  `mapstructure:"sstable_capacity"`
	RunCapacity      int    `mapstructure:"run_capacity"`
	MaxLevels        int    `mapstructure:"max_levels"`
	DataDir          string `mapstructure:"data_dir"`
}

// Default returns the documented production defaults.
func Default() Config {
	return Config{
		Fanout:           defaultFanout,
		MemtableCapacity: defaultMemtableCapacity,
		SSTableCapacity:  defaultSSTableCapacity,
		RunCapacity:      defaultRunCapacity,
		MaxLevels:        defaultMaxLevels,
		DataDir:          defaultDataDir,
	}
}

// TestProfile returns the small capacities used by the scenario tests in
// package engine: a 16 KiB memtable, a 64 KiB sstable cap, fanout 2, the
// same run_capacity and max_levels as production.
func TestProfile() Config {
	cfg := Default()
	cfg.MemtableCapacity = 16 << 10
	cfg.SSTableCapacity = 64 << 10
	cfg.Fanout = 2
	return cfg
}

// Load returns Default() when path is empty. When path is non-empty, it
// reads that file (TOML, YAML, JSON, or any other format viper
// recognizes by extension) and overlays its values on top of the
// defaults, so a config file only needs to mention the options it wants
// to change.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("fanout", cfg.Fanout)
	v.SetDefault("memtable_capacity", cfg.MemtableCapacity)
	v.SetDefault("sstable_capacity", cfg.SSTableCapacity)
	v.SetDefault("run_capacity", cfg.RunCapacity)
	v.SetDefault("max_levels", cfg.MaxLevels)
	v.SetDefault("data_dir", cfg.DataDir)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}
