// Package config loads and validates the CloudSweep YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration. Zero values fall back to Default().
type Config struct {
	Profile          string   `yaml:"profile,omitempty"`
	OrganizationRole string   `yaml:"organization_role,omitempty"`
	RunnerRole       string   `yaml:"runner_role,omitempty"`
	Accounts         []string `yaml:"accounts,omitempty"`
	Regions          []string `yaml:"regions,omitempty"`
	Scanners         []string `yaml:"scanners,omitempty"`
	MaxWorkers       int      `yaml:"max_workers,omitempty"`
	DaysThreshold    int      `yaml:"days_threshold,omitempty"`
	Policy           string   `yaml:"policy,omitempty"`

	Log        Log        `yaml:"log,omitempty"`
	OTEL       OTEL       `yaml:"otel,omitempty"`
	Metrics    Metrics    `yaml:"metrics,omitempty"`
	Cost       Cost       `yaml:"cost,omitempty"`
	Report     Report     `yaml:"report,omitempty"`
	Confluence Confluence `yaml:"confluence,omitempty"`
}

// Log controls logger behavior.
type Log struct {
	Level string `yaml:"level,omitempty"`
}

// OTEL controls trace and metric export.
type OTEL struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Metrics controls the Prometheus scrape endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// Cost controls price lookups and the on-disk price cache.
type Cost struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	CachePath string `yaml:"cache_path,omitempty"`
}

// Report controls HTML report output.
type Report struct {
	Output string `yaml:"output,omitempty"`
}

// Confluence controls report upload. The API token is read from the
// CONFLUENCE_API_TOKEN environment variable when not set here.
type Confluence struct {
	Enabled    bool   `yaml:"enabled,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Username   string `yaml:"username,omitempty"`
	APIToken   string `yaml:"api_token,omitempty"`
	SpaceKey   string `yaml:"space_key,omitempty"`
	ParentPage string `yaml:"parent_page,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DaysThreshold: 90,
		Log:           Log{Level: "info"},
		Metrics:       Metrics{Addr: ":9090"},
		Cost:          Cost{Enabled: true},
		Report:        Report{Output: "cloudsweep-report.html"},
	}
}

// Load reads a YAML config file and fills unset fields with defaults. An
// empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DaysThreshold == 0 {
		c.DaysThreshold = def.DaysThreshold
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}
	if c.Report.Output == "" {
		c.Report.Output = def.Report.Output
	}
	if c.Confluence.APIToken == "" {
		c.Confluence.APIToken = os.Getenv("CONFLUENCE_API_TOKEN")
	}
}

// Validate ensures the config is internally consistent.
func (c *Config) Validate() error {
	if c.DaysThreshold < 0 {
		return fmt.Errorf("days_threshold must not be negative")
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative")
	}
	if c.OTEL.Enabled && c.OTEL.Endpoint == "" {
		return fmt.Errorf("otel.endpoint is required when otel is enabled")
	}
	if c.Confluence.Enabled {
		switch {
		case c.Confluence.BaseURL == "":
			return fmt.Errorf("confluence.base_url is required when confluence is enabled")
		case c.Confluence.Username == "":
			return fmt.Errorf("confluence.username is required when confluence is enabled")
		case c.Confluence.APIToken == "":
			return fmt.Errorf("confluence api token is required when confluence is enabled")
		case c.Confluence.SpaceKey == "":
			return fmt.Errorf("confluence.space_key is required when confluence is enabled")
		}
	}
	return nil
}
