package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "core-mosquitto", cfg.MQTTHost)
	assert.Equal(t, 30, cfg.MaxTimestampOffsetDays)
	assert.True(t, cfg.CreateMissingEntities)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mqtt_host: broker.local
mqtt_topic: history/ingest/+
max_timestamp_offset_days: 7
create_missing_entities: false
clock_skew_tolerance: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.local", cfg.MQTTHost)
	assert.Equal(t, "history/ingest/+", cfg.MQTTTopic)
	assert.Equal(t, 7, cfg.MaxTimestampOffsetDays)
	assert.False(t, cfg.CreateMissingEntities)
	assert.Equal(t, 30*time.Second, cfg.ClockSkewTolerance.Duration())
	// untouched fields keep their defaults
	assert.Equal(t, 1883, cfg.MQTTPort)
	assert.Equal(t, "sensor.", cfg.DefaultEntityIDPrefix)
}

func TestLoadTokenFromEnvironment(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "secret-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.HAToken)
}

func TestLoadExplicitTokenWinsOverEnvironment(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "env-token")

	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ha_token: file-token\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.HAToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty host", func(c *Config) { c.MQTTHost = "" }, true},
		{"port out of range", func(c *Config) { c.MQTTPort = 70000 }, true},
		{"empty topic", func(c *Config) { c.MQTTTopic = "" }, true},
		{"empty db path", func(c *Config) { c.HADatabasePath = "" }, true},
		{"zero offset", func(c *Config) { c.MaxTimestampOffsetDays = 0 }, true},
		{"negative skew", func(c *Config) { c.ClockSkewTolerance = Duration(-time.Second) }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTopicPrefix(t *testing.T) {
	tests := []struct {
		topic    string
		expected string
	}{
		{"homeassistant/history/+", "homeassistant/history/"},
		{"homeassistant/history/#", "homeassistant/history/"},
		{"history/ingest/+/state", "history/ingest/"},
		{"plain/topic", "plain/topic"},
	}

	for _, tt := range tests {
		cfg := Default()
		cfg.MQTTTopic = tt.topic
		assert.Equal(t, tt.expected, cfg.TopicPrefix(), tt.topic)
	}
}
