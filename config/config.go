// Package config loads the warden configuration file. Every section
// has working defaults; an empty file is a valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/example/warden/lifecycle"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the top-level warden configuration
type Config struct {
	Version    string     `yaml:"version"`
	Listen     string     `yaml:"listen" validate:"required"`
	Storage    Storage    `yaml:"storage"`
	Platform   Platform   `yaml:"platform"`
	Sweep      Sweep      `yaml:"sweep"`
	Janitor    Janitor    `yaml:"janitor"`
	Teardown   Teardown   `yaml:"teardown"`
	Ports      Ports      `yaml:"ports"`
	Policy     Policy     `yaml:"policy"`
	Alerts     Alerts     `yaml:"alerts"`
	Audit      Audit      `yaml:"audit"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
}

// Storage locates the record store
type Storage struct {
	Dir string `yaml:"dir" validate:"required"`
}

// Platform selects and configures the infrastructure driver
type Platform struct {
	Driver string `yaml:"driver" validate:"required,oneof=virtd ec2"`
	// Endpoints maps node names to virtd API endpoints
	Endpoints map[string]string `yaml:"endpoints,omitempty"`
	// Region is the AWS region for the ec2 driver
	Region  string        `yaml:"region,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Sweep schedules the reconciliation pass
type Sweep struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// Janitor schedules the stuck-state diagnosis pass
type Janitor struct {
	Interval  time.Duration       `yaml:"interval" validate:"gt=0"`
	Deadlines lifecycle.Deadlines `yaml:"deadlines"`
}

// Teardown tunes the hard-delete shutdown sequence
type Teardown struct {
	StopWait time.Duration `yaml:"stop_wait" validate:"gt=0"`
	StopPoll time.Duration `yaml:"stop_poll" validate:"gt=0"`
}

// Ports is the workload port claim range
type Ports struct {
	Low  int `yaml:"low" validate:"gt=0"`
	High int `yaml:"high" validate:"gtfield=Low"`
}

// Policy locates the admission policy bundle. An empty dir disables
// the admission gate.
type Policy struct {
	Dir string `yaml:"dir,omitempty"`
}

// Alerts configures notification delivery. Without a webhook URL,
// alerts go to the structured log.
type Alerts struct {
	WebhookURL string `yaml:"webhook_url,omitempty" validate:"omitempty,url"`
}

// Audit configures the append-only journal
type Audit struct {
	Dir           string `yaml:"dir" validate:"required"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=1"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb" validate:"gte=1"`
}

// Telemetry configures trace and metric export
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment,omitempty"`
}

// Dispatcher sizes the deletion worker pool
type Dispatcher struct {
	Workers      int           `yaml:"workers" validate:"gte=1"`
	QueueSize    int           `yaml:"queue_size" validate:"gte=1"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gt=0"`
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		Version: "v1",
		Listen:  ":9464",
		Storage: Storage{Dir: "/var/lib/warden"},
		Platform: Platform{
			Driver:  "virtd",
			Timeout: 30 * time.Second,
		},
		Sweep:   Sweep{Interval: 5 * time.Minute},
		Janitor: Janitor{Interval: time.Minute, Deadlines: lifecycle.DefaultDeadlines()},
		Teardown: Teardown{
			StopWait: 2 * time.Minute,
			StopPoll: 2 * time.Second,
		},
		Ports: Ports{Low: 30000, High: 32767},
		Audit: Audit{
			Dir:           "/var/lib/warden/audit",
			RetentionDays: 30,
			MaxFileSizeMB: 100,
		},
		Telemetry: Telemetry{Insecure: true},
		Dispatcher: Dispatcher{
			Workers:      4,
			QueueSize:    64,
			MaxRetries:   5,
			RetryBackoff: 5 * time.Second,
		},
	}
}

// LoadConfig loads configuration from file, over the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate ensures the config is complete and internally consistent
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Platform.Driver == "virtd" && len(c.Platform.Endpoints) == 0 {
		return fmt.Errorf("virtd driver requires platform.endpoints")
	}
	if c.Platform.Driver == "ec2" && c.Platform.Region == "" {
		return fmt.Errorf("ec2 driver requires platform.region")
	}

	for state, limit := range map[string]time.Duration{
		"pending":      c.Janitor.Deadlines.Pending,
		"provisioning": c.Janitor.Deadlines.Provisioning,
		"removing":     c.Janitor.Deadlines.Removing,
	} {
		if limit <= 0 {
			return fmt.Errorf("janitor deadline for %s must be positive", state)
		}
	}

	return nil
}
