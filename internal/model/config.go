// Package model defines the data structures for stagehand's configuration,
// locks, outcomes, and session state.
package model

type Config struct {
	Project     ProjectConfig     `yaml:"project"`
	Locks       LocksConfig       `yaml:"locks"`
	Retry       RetryConfig       `yaml:"retry"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Watch       WatchConfig       `yaml:"watch"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

type LocksConfig struct {
	TTLSec int `yaml:"ttl_sec"`
}

type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

type CalibrationConfig struct {
	MaxRecords int `yaml:"max_records"`
}

type WatchConfig struct {
	ScanIntervalSec int  `yaml:"scan_interval_sec"`
	Notify          bool `yaml:"notify"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills zero-valued fields so a missing or sparse config.yaml
// still yields a fully usable configuration.
func (c *Config) ApplyDefaults() {
	if c.Locks.TTLSec <= 0 {
		c.Locks.TTLSec = 300
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 2000
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = 300000
	}
	if c.Calibration.MaxRecords <= 0 {
		c.Calibration.MaxRecords = 500
	}
	if c.Watch.ScanIntervalSec <= 0 {
		c.Watch.ScanIntervalSec = 15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
