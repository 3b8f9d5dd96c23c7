// Package config loads the ktail CLI configuration from a YAML file merged
// with environment variables (prefix `KTAIL__`, delimiter `__`).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hugolhafner/ktail/filter"
)

type Filter struct {
	Field           string `koanf:"field"`
	Op              string `koanf:"op"`
	Value           string `koanf:"value"`
	CaseInsensitive bool   `koanf:"case_insensitive"`
}

type Config struct {
	Brokers     []string `koanf:"brokers"`
	Topics      []string `koanf:"topics"`
	GroupID     string   `koanf:"group_id"`
	FromStart   bool     `koanf:"from_start"`
	BatchSize   int      `koanf:"batch_size"`
	MetricsPort int      `koanf:"metrics_port"`
	LogLevel    string   `koanf:"log_level"`
	Filters     []Filter `koanf:"filters"`
}

// Load merges YAML (if present) with env-vars and applies defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	_ = k.Load(
		env.Provider(
			"KTAIL__", ".", func(s string) string {
				return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "KTAIL__")), "__", ".")
			},
		), nil,
	)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)

	if len(cfg.Topics) == 0 {
		return cfg, errors.New("at least one topic is required")
	}

	return cfg, nil
}

func applyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// FilterSpecs converts the configured filters into compilable specs and
// validates them.
func (c Config) FilterSpecs() ([]filter.Spec, error) {
	specs := make([]filter.Spec, len(c.Filters))
	for i, f := range c.Filters {
		specs[i] = filter.Spec{
			Field:           filter.Field(f.Field),
			Op:              filter.Op(f.Op),
			Value:           f.Value,
			CaseInsensitive: f.CaseInsensitive,
		}
	}

	if _, err := filter.Compile(specs); err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}

	return specs, nil
}
