// Package config loads the optional ember.toml runtime tuning file.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config carries the runtime knobs; every field has a working default so
// the file is optional.
type Config struct {
	GC       GCConfig       `toml:"gc"`
	VM       VMConfig       `toml:"vm"`
	Dispatch DispatchConfig `toml:"dispatch"`
}

type GCConfig struct {
	GrowthFactor int  `toml:"growth_factor"`
	Stress       bool `toml:"stress"`
	Trace        bool `toml:"trace"`
}

type VMConfig struct {
	CharSubtraction bool `toml:"char_subtraction"`
	Trace           bool `toml:"trace"`
}

type DispatchConfig struct {
	Trace bool `toml:"trace"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		GC: GCConfig{GrowthFactor: 2},
		VM: VMConfig{CharSubtraction: true},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.GC.GrowthFactor < 2 {
		cfg.GC.GrowthFactor = 2
	}
	return cfg, nil
}
