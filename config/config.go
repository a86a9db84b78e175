// Package config loads the repeater's YAML configuration: the datasets and
// algorithm configurations to sweep, plus logging and monitoring settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultMetricsPrefix = "repeater"
	defaultJobName       = "repeater"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultLogOutput = "stderr"
)

// Config represents the complete application configuration.
type Config struct {
	// Datasets are the dataset names the sweep covers. Each dataset is
	// combined with every configuration.
	Datasets []string `yaml:"datasets"`

	// Configurations are the algorithm configurations to repeat per
	// dataset.
	Configurations []Configuration `yaml:"configurations"`

	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// Configuration describes one command template of the sweep.
type Configuration struct {
	// Cmd is the executable to launch.
	Cmd string `yaml:"cmd"`

	// Args is the space-separated argument string appended to every run of
	// this configuration. These arguments are part of the run's identity
	// for checkpointing.
	Args string `yaml:"args"`

	// Workdir is the working directory for the launched process.
	Workdir string `yaml:"workdir"`

	// Repetitions is the number of repeated trials per dataset.
	Repetitions int `yaml:"repetitions"`
}

// LoggingConfig defines logging behavior settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// MonitoringConfig holds metrics settings. Monitoring is disabled when the
// VictoriaMetrics URL is empty.
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("at least one dataset is required")
	}
	for i, d := range c.Datasets {
		if d == "" {
			return fmt.Errorf("dataset %d: name must not be empty", i)
		}
	}
	if len(c.Configurations) == 0 {
		return fmt.Errorf("at least one configuration is required")
	}
	for i, cfg := range c.Configurations {
		if cfg.Cmd == "" {
			return fmt.Errorf("configuration %d: cmd is required", i)
		}
		if cfg.Repetitions <= 0 {
			return fmt.Errorf("configuration %d: repetitions must be positive", i)
		}
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields.
func (c *Config) SetDefaults() {
	for i := range c.Configurations {
		if c.Configurations[i].Workdir == "" {
			c.Configurations[i].Workdir = "."
		}
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// LoadConfig reads the YAML config file at the given path and returns a
// Config struct.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
