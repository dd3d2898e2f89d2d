// Package config loads the deployment configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/weft/internal/auth"
	"github.com/roach88/weft/internal/domain"
)

// Duration wraps time.Duration so YAML values can be written in the
// usual "5s" / "2m" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level YAML document.
type Config struct {
	// LocalName is how foreign origins know this deployment, e.g. "@home".
	LocalName string `yaml:"localName"`

	// DBPath is the SQLite database location.
	DBPath string `yaml:"dbPath"`

	// DrainInterval is the async drainer poll delay.
	DrainInterval Duration `yaml:"drainInterval"`

	// LockOverrideRole names the minimum role that may edit a locked
	// ref. Empty disables lock override entirely.
	LockOverrideRole string `yaml:"lockOverrideRole"`

	// Origins lists the foreign deployments to replicate with.
	Origins []OriginConfig `yaml:"origins"`
}

// OriginConfig declares one foreign origin.
type OriginConfig struct {
	Name         string   `yaml:"name"`
	URL          string   `yaml:"url"`
	PullInterval Duration `yaml:"pullInterval"`
	BatchSize    int      `yaml:"batchSize"`
	AddTags      []string `yaml:"addTags"`
	RemoveTags   []string `yaml:"removeTags"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "weft.db"
	}
	if cfg.LockOverrideRole != "" {
		if _, ok := auth.ParseRole(cfg.LockOverrideRole); !ok {
			return nil, fmt.Errorf("unknown lockOverrideRole %q", cfg.LockOverrideRole)
		}
	}
	for i, origin := range cfg.Origins {
		if origin.Name == "" {
			return nil, fmt.Errorf("origin %d: name is required", i)
		}
		if origin.URL == "" {
			return nil, fmt.Errorf("origin %q: url is required", origin.Name)
		}
	}
	return &cfg, nil
}

// AuthOptions converts the configured lock override into options for the
// access decision engine. Empty configuration yields none: locks bind
// every role.
func (c *Config) AuthOptions() []auth.Option {
	if c.LockOverrideRole == "" {
		return nil
	}
	role, ok := auth.ParseRole(c.LockOverrideRole)
	if !ok {
		return nil
	}
	return []auth.Option{auth.WithLockOverrideRole(role)}
}

// Origin converts an OriginConfig to the domain entity.
func (o OriginConfig) Origin() *domain.Origin {
	return &domain.Origin{
		Name:         o.Name,
		URL:          o.URL,
		PullInterval: time.Duration(o.PullInterval),
		BatchSize:    o.BatchSize,
		AddTags:      o.AddTags,
		RemoveTags:   o.RemoveTags,
	}
}
