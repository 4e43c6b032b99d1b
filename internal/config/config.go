package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskforge.yml.
type Config struct {
	Bus struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"bus"`
	Policy struct {
		MinROI        float64 `yaml:"min_roi_score"`
		MaxRisk       float64 `yaml:"max_risk_score"`
		MinAutomation float64 `yaml:"min_automation_score"`
	} `yaml:"policy"`
	Pipeline struct {
		BatchSize       int      `yaml:"batch_size"`
		HumanCategories []string `yaml:"human_categories"`
	} `yaml:"pipeline"`
	Scheduler struct {
		DiscoveryMinutes int `yaml:"discovery_minutes"`
		IncomeMinutes    int `yaml:"income_minutes"`
		HealthMinutes    int `yaml:"health_minutes"`
		RetryMinutes     int `yaml:"retry_minutes"`
		ReconnectMinutes int `yaml:"reconnect_minutes"`
	} `yaml:"scheduler"`
	Worker struct {
		PollSeconds int `yaml:"poll_seconds"`
		BatchSize   int `yaml:"batch_size"`
	} `yaml:"worker"`
}

// Default returns the stock configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("config.bus.buffer_size must be positive")
	}
	if c.Policy.MaxRisk < 0 || c.Policy.MaxRisk > 100 {
		return fmt.Errorf("config.policy.max_risk_score must be in 0-100")
	}
	if c.Policy.MinROI < 0 || c.Policy.MinROI > 101 {
		return fmt.Errorf("config.policy.min_roi_score out of range")
	}
	if c.Policy.MinAutomation < 0 || c.Policy.MinAutomation > 101 {
		return fmt.Errorf("config.policy.min_automation_score out of range")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("config.pipeline.batch_size must be positive")
	}
	if len(c.Pipeline.HumanCategories) == 0 {
		return fmt.Errorf("config.pipeline.human_categories is required")
	}
	if c.Worker.PollSeconds <= 0 {
		return fmt.Errorf("config.worker.poll_seconds must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("config.worker.batch_size must be positive")
	}
	for name, m := range map[string]int{
		"discovery_minutes": c.Scheduler.DiscoveryMinutes,
		"income_minutes":    c.Scheduler.IncomeMinutes,
		"health_minutes":    c.Scheduler.HealthMinutes,
		"retry_minutes":     c.Scheduler.RetryMinutes,
		"reconnect_minutes": c.Scheduler.ReconnectMinutes,
	} {
		if m <= 0 {
			return fmt.Errorf("config.scheduler.%s must be positive", name)
		}
	}
	return nil
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskforge.yml")
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the workspace config, or defaults if no file exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `bus:
  buffer_size: 1000

policy:
  min_roi_score: 0
  max_risk_score: 100
  min_automation_score: 0

pipeline:
  batch_size: 10
  human_categories: [human_prep, kyc, compliance]

scheduler:
  discovery_minutes: 10
  income_minutes: 15
  health_minutes: 2
  retry_minutes: 5
  reconnect_minutes: 3

worker:
  poll_seconds: 2
  batch_size: 5
`
