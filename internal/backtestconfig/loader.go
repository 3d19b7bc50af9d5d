package backtestconfig

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis-backtest/internal/s0_data/quality"
)

// Load reads the YAML table layout
// KnownFields(true): 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Horizon == 0 {
		cfg.Horizon = 100
	}
	if cfg.Quality == nil {
		q := quality.DefaultConfig()
		cfg.Quality = &q
	}
	for i := range cfg.Tables {
		if cfg.Tables[i].SlotPrefix == "" {
			cfg.Tables[i].SlotPrefix = "rate_"
		}
	}
}
