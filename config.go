package creditgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level entitlement configuration.
type Config struct {
	Timezone            string       `yaml:"timezone"`
	Model               string       `yaml:"model"`
	MaxImages           int          `yaml:"max_images"`
	CredentialEnvPrefix string       `yaml:"credential_env_prefix"`
	Plans               []PlanConfig `yaml:"plans"`
}

// PlanConfig overrides the allowance of a single plan.
type PlanConfig struct {
	Name      string `yaml:"name"`
	Monthly   int64  `yaml:"monthly"`
	Daily     int64  `yaml:"daily"`
	Price     int64  `yaml:"price"`
	Unlimited bool   `yaml:"unlimited"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Timezone:            "UTC",
		Model:               DefaultModel,
		MaxImages:           DefaultMaxImages,
		CredentialEnvPrefix: DefaultCredentialPrefix,
	}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
// Unset fields keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("creditgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("creditgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("creditgate: config: invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.MaxImages < 0 {
		return fmt.Errorf("creditgate: config: max_images must not be negative")
	}

	seen := make(map[Plan]bool, len(c.Plans))
	for i, p := range c.Plans {
		plan, err := ParsePlan(p.Name)
		if err != nil {
			return fmt.Errorf("creditgate: config: plans[%d]: %w", i, err)
		}
		if seen[plan] {
			return fmt.Errorf("creditgate: config: duplicate plan %q", plan)
		}
		seen[plan] = true

		if !p.Unlimited && p.Monthly < 0 {
			return fmt.Errorf("creditgate: config: plans[%d] (%s): monthly must not be negative", i, plan)
		}
		if p.Daily < 0 {
			return fmt.Errorf("creditgate: config: plans[%d] (%s): daily must not be negative", i, plan)
		}
		if p.Price < 0 {
			return fmt.Errorf("creditgate: config: plans[%d] (%s): price must not be negative", i, plan)
		}
	}

	return nil
}

// Location returns the time zone in which calendar days are compared.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("creditgate: config: invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Catalog builds the plan catalog with the configured overrides applied.
// Names are assumed valid; call Validate first.
func (c Config) Catalog() *Catalog {
	overrides := make(map[Plan]Allowance, len(c.Plans))
	for _, p := range c.Plans {
		plan, err := ParsePlan(p.Name)
		if err != nil {
			continue
		}
		a := Allowance{Monthly: p.Monthly, Daily: p.Daily, Price: p.Price}
		if p.Unlimited {
			a.Monthly = Unbounded
		}
		overrides[plan] = a
	}
	return NewCatalog(overrides)
}
