package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forgeworks/foundry/internal/observability"
	"github.com/forgeworks/foundry/internal/pipeline/budget"
	"github.com/forgeworks/foundry/internal/pipeline/supervisor"
)

// Config is the run configuration file. Decoding is strict: unknown keys
// fail loudly instead of being silently dropped.
type Config struct {
	Project string `yaml:"project"`
	// Entity is the application's primary resource name; structural checks
	// and heal templates are derived from it.
	Entity string `yaml:"entity"`

	Workspace string `yaml:"workspace"`
	LogsRoot  string `yaml:"logs_root"`

	Budget struct {
		CapUnits float64                   `yaml:"cap_units"`
		Pricing  budget.Pricing            `yaml:"pricing"`
		Rates    map[string]budget.Pricing `yaml:"rates"`
	} `yaml:"budget"`

	Agent struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		MaxOutUnits int     `yaml:"max_out_units"`
	} `yaml:"agent"`

	Quality struct {
		Threshold int `yaml:"threshold"`
	} `yaml:"quality"`

	Retry struct {
		InitialDelayMS int     `yaml:"initial_delay_ms"`
		BackoffFactor  float64 `yaml:"backoff_factor"`
		MaxDelayMS     int     `yaml:"max_delay_ms"`
		Jitter         bool    `yaml:"jitter"`
	} `yaml:"retry"`

	Checkpoint struct {
		ExcludeGlobs []string `yaml:"exclude_globs"`
	} `yaml:"checkpoint"`

	Logging observability.LogConfig `yaml:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("engine: decode config: %w", err)
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Entity == "" {
		cfg.Entity = "item"
	}
	if cfg.Quality.Threshold == 0 {
		cfg.Quality.Threshold = 6
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = "openai"
	}
	if cfg.Budget.Pricing == (budget.Pricing{}) {
		cfg.Budget.Pricing = budget.Pricing{InputPerMille: 0.01, OutputPerMille: 0.03}
	}
	def := supervisor.DefaultBackoff()
	if cfg.Retry.InitialDelayMS == 0 {
		cfg.Retry.InitialDelayMS = def.InitialDelayMS
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = def.BackoffFactor
	}
	if cfg.Retry.MaxDelayMS == 0 {
		cfg.Retry.MaxDelayMS = def.MaxDelayMS
	}
	if cfg.Logging == (observability.LogConfig{}) {
		cfg.Logging = observability.DefaultLogConfig()
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("engine: config: project is required")
	}
	if cfg.Budget.CapUnits <= 0 {
		return fmt.Errorf("engine: config: budget.cap_units must be > 0")
	}
	if cfg.Quality.Threshold < 1 || cfg.Quality.Threshold > 10 {
		return fmt.Errorf("engine: config: quality.threshold must be in [1,10], got %d", cfg.Quality.Threshold)
	}
	return nil
}

// PriceBook assembles the configured rates with fallback pricing.
func (c *Config) PriceBook() budget.PriceBook {
	return budget.PriceBook{Default: c.Budget.Pricing, Rates: c.Budget.Rates}
}

// BackoffConfig maps the retry section onto the supervisor's backoff.
func (c *Config) BackoffConfig() supervisor.BackoffConfig {
	return supervisor.BackoffConfig{
		InitialDelayMS: c.Retry.InitialDelayMS,
		BackoffFactor:  c.Retry.BackoffFactor,
		MaxDelayMS:     c.Retry.MaxDelayMS,
		Jitter:         c.Retry.Jitter,
	}
}
