// Package config loads the injector configuration from an optional YAML file
// merged over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
// Bare numbers are interpreted as seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Config is the full configuration surface of the injector.
type Config struct {
	MQTTHost     string `yaml:"mqtt_host"`
	MQTTPort     int    `yaml:"mqtt_port"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTTopic    string `yaml:"mqtt_topic"`

	HADatabasePath string `yaml:"ha_database_path"`
	HAAPIURL       string `yaml:"ha_api_url"`
	HAToken        string `yaml:"ha_token"`

	MaxTimestampOffsetDays int      `yaml:"max_timestamp_offset_days"`
	ClockSkewTolerance     Duration `yaml:"clock_skew_tolerance"`
	DefaultEntityIDPrefix  string   `yaml:"default_entity_id_prefix"`
	CreateMissingEntities  bool     `yaml:"create_missing_entities"`

	Workers      int      `yaml:"workers"`
	MetricsAddr  string   `yaml:"metrics_addr"`
	APITimeout   Duration `yaml:"api_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Default returns the configuration used when no file overrides are present.
// Values mirror the defaults of the Home Assistant add-on environment.
func Default() Config {
	return Config{
		MQTTHost:               "core-mosquitto",
		MQTTPort:               1883,
		MQTTTopic:              "homeassistant/history/+",
		HADatabasePath:         "/config/home-assistant_v2.db",
		HAAPIURL:               "http://supervisor/core/api",
		MaxTimestampOffsetDays: 30,
		ClockSkewTolerance:     0,
		DefaultEntityIDPrefix:  "sensor.",
		CreateMissingEntities:  true,
		Workers:                4,
		MetricsAddr:            ":9100",
		APITimeout:             Duration(10 * time.Second),
		WriteTimeout:           Duration(10 * time.Second),
	}
}

// Load reads the YAML file at path and merges it over the defaults. A missing
// path returns the defaults. The Home Assistant API token falls back to the
// SUPERVISOR_TOKEN environment variable when not configured explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if cfg.HAToken == "" {
		cfg.HAToken = os.Getenv("SUPERVISOR_TOKEN")
	}
	return cfg
}

// Validate checks invariants that would otherwise surface as runtime failures.
func (c *Config) Validate() error {
	if c.MQTTHost == "" {
		return fmt.Errorf("mqtt_host must not be empty")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("mqtt_port %d is out of range", c.MQTTPort)
	}
	if c.MQTTTopic == "" {
		return fmt.Errorf("mqtt_topic must not be empty")
	}
	if c.HADatabasePath == "" {
		return fmt.Errorf("ha_database_path must not be empty")
	}
	if c.MaxTimestampOffsetDays <= 0 {
		return fmt.Errorf("max_timestamp_offset_days must be positive, got %d", c.MaxTimestampOffsetDays)
	}
	if c.ClockSkewTolerance < 0 {
		return fmt.Errorf("clock_skew_tolerance must not be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// TopicPrefix returns the literal prefix of the subscription topic, i.e. the
// pattern up to the first MQTT wildcard. The entity ID of an inbound message
// is the topic suffix after this prefix.
func (c *Config) TopicPrefix() string {
	topic := c.MQTTTopic
	for _, wildcard := range []string{"+", "#"} {
		if idx := strings.Index(topic, wildcard); idx >= 0 {
			topic = topic[:idx]
		}
	}
	return topic
}

// BrokerURL returns the MQTT broker address in the form expected by the client.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort)
}

// MaxTimestampOffset returns the freshness window as a duration.
func (c *Config) MaxTimestampOffset() time.Duration {
	return time.Duration(c.MaxTimestampOffsetDays) * 24 * time.Hour
}
