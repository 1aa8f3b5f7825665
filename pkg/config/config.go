// Package config loads the meter configuration file. Flags cover the
// service-level knobs; the per-meter setup (delivery points, tokens,
// pricings, offpeak windows) lives in a YAML file because it nests too
// deeply for flags.
package config

import (
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/types"
	"gopkg.in/yaml.v3"
)

// SeriesConfig configures the collection of one energy direction for a
// meter.
type SeriesConfig struct {
	// Service is the metering endpoint to pull readings from. Its direction
	// must match the block it appears under.
	Service types.Service `yaml:"service"`

	// Pricings maps tariff labels to their configured prices. Labels with
	// no entry fall back to built-in defaults at reconciliation time.
	Pricings map[string]types.Pricing `yaml:"pricings"`

	// Intervals are the daily windows bucketed under the offpeak label.
	// Meters with no intervals put everything under the standard label.
	Intervals []types.IntervalRule `yaml:"intervals"`
}

// Meter is the configuration of one delivery point.
type Meter struct {
	// PDL is the 14-digit delivery point identifier.
	PDL   string `yaml:"pdl"`
	Token string `yaml:"token"`

	// Tempo enables day-color tariffs; requires a tempo pricing on the
	// consumption block.
	Tempo bool `yaml:"tempo"`
	// Ecowatt enables collection of the grid strain signal.
	Ecowatt bool `yaml:"ecowatt"`

	Consumption *SeriesConfig `yaml:"consumption"`
	Production  *SeriesConfig `yaml:"production"`
}

// Config is the root of the meters file.
type Config struct {
	Meters []Meter `yaml:"meters"`
}

// Load reads and validates a meters file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks the configuration for setup errors. Runtime conditions
// like missing prices are not errors here; they degrade with diagnostics
// at reconciliation time.
func (c *Config) Validate() error {
	if len(c.Meters) == 0 {
		return fmt.Errorf("at least one meter is required")
	}
	seen := map[string]bool{}
	for i, m := range c.Meters {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("meter %d: %w", i, err)
		}
		if seen[m.PDL] {
			return fmt.Errorf("meter %d: duplicate pdl %s", i, m.PDL)
		}
		seen[m.PDL] = true
	}
	return nil
}

// Validate checks a single meter's configuration.
func (m *Meter) Validate() error {
	if len(m.PDL) != 14 {
		return fmt.Errorf("pdl must be 14 characters, got %q", m.PDL)
	}
	if m.Token == "" {
		return fmt.Errorf("token is required for pdl %s", m.PDL)
	}
	if m.Consumption == nil && m.Production == nil {
		return fmt.Errorf("pdl %s has neither consumption nor production configured", m.PDL)
	}
	if m.Consumption != nil {
		if err := m.Consumption.validate(types.ModeConsumption); err != nil {
			return fmt.Errorf("pdl %s consumption: %w", m.PDL, err)
		}
	}
	if m.Production != nil {
		if err := m.Production.validate(types.ModeProduction); err != nil {
			return fmt.Errorf("pdl %s production: %w", m.PDL, err)
		}
	}
	if m.Tempo {
		if m.Consumption == nil {
			return fmt.Errorf("pdl %s: tempo requires a consumption block", m.PDL)
		}
		var hasTempo bool
		for _, p := range m.Consumption.Pricings {
			if p.Tempo != nil {
				hasTempo = true
			}
		}
		if !hasTempo {
			return fmt.Errorf("pdl %s: tempo requires a tempo pricing on consumption", m.PDL)
		}
	}
	return nil
}

func (s *SeriesConfig) validate(mode types.Mode) error {
	if err := s.Service.Validate(); err != nil {
		return err
	}
	if s.Service.Mode() != mode {
		return fmt.Errorf("service %s measures %s", s.Service, s.Service.Mode())
	}
	for label, p := range s.Pricings {
		if label == "" {
			return fmt.Errorf("pricings cannot have an empty label")
		}
		if p.Price < 0 {
			return fmt.Errorf("pricing %s: price cannot be negative", label)
		}
		if p.Tempo != nil && (p.Tempo.Blue < 0 || p.Tempo.White < 0 || p.Tempo.Red < 0) {
			return fmt.Errorf("pricing %s: tempo prices cannot be negative", label)
		}
	}
	return nil
}

// Configured sets up config loading.
// It registers flags for configuration.
func Configured() *Config {
	path := lflag.String("meters-config", "meters.yaml", "Path to the meters YAML file")

	c := &Config{}

	lflag.Do(func() {
		loaded, err := Load(*path)
		if err != nil {
			panic(err)
		}
		*c = *loaded
	})

	return c
}
