package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PULSE_CONFIG", "PULSE_ACCESS_TOKEN", "PULSE_ORGANIZATION_ID", "PULSE_ENDPOINTS",
		"PULSE_SCAN_INTERVAL", "PULSE_BASE_URL", "LOG_LEVEL", "METRICS_ADDR",
		"MQTT_BROKER", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_CLIENT_ID",
		"MQTT_DISCOVERY_PREFIX", "MQTT_BASE_TOPIC", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Error(t, cfg.Validate(), "credentials are missing")
}

func TestParse_Layering(t *testing.T) {
	clearEnv(t)
	t.Setenv("FILE_TOKEN", "from-file")
	path := writeFile(t, `
access_token: ${FILE_TOKEN}
organization_id: org-file
endpoint_ids: [ep-a, ep-b]
scan_interval: 10
mqtt:
  broker: mqtt://broker:1883
  base_topic: pulse
redis:
  addr: redis:6379
  ttl: 1h
`)
	t.Setenv("PULSE_ORGANIZATION_ID", "org-env")
	t.Setenv("PULSE_SCAN_INTERVAL", "3")

	cfg, err := Parse([]string{"--config", path, "--interval", "2", "--log-level", "debug"})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-file", cfg.AccessToken)
	assert.Equal(t, "org-env", cfg.OrganizationID)
	assert.Equal(t, []string{"ep-a", "ep-b"}, cfg.EndpointIDs)
	assert.Equal(t, 2, cfg.ScanInterval, "flags win over env and file")
	assert.Equal(t, "mqtt://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "pulse", cfg.MQTT.BaseTopic)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestParse_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("PULSE_ACCESS_TOKEN", "tok")
	t.Setenv("PULSE_ORGANIZATION_ID", "org")
	t.Setenv("PULSE_ENDPOINTS", " ep-1, ,ep-2 ")
	t.Setenv("REDIS_DB", "4")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"ep-1", "ep-2"}, cfg.EndpointIDs)
	assert.Equal(t, 4, cfg.Redis.DB)
}

func TestParse_FlagEndpoints(t *testing.T) {
	clearEnv(t)
	t.Setenv("PULSE_ENDPOINTS", "ep-env")

	cfg, err := Parse([]string{"-t", "tok", "-o", "org", "-e", "ep-1,ep-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-1", "ep-2"}, cfg.EndpointIDs)
	assert.Equal(t, "tok", cfg.AccessToken)
}

func TestParse_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Parse([]string{"--config", writeFile(t, "scan_interval: [")})
	assert.Error(t, err)

	t.Setenv("PULSE_SCAN_INTERVAL", "often")
	_, err = Parse(nil)
	assert.Error(t, err)

	_, err = Parse([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.AccessToken = "tok"
		c.OrganizationID = "org"
		c.EndpointIDs = []string{"ep"}
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.ScanInterval = 0 }},
		{"negative interval", func(c *Config) { c.ScanInterval = -5 }},
		{"no endpoints", func(c *Config) { c.EndpointIDs = nil }},
		{"empty endpoint", func(c *Config) { c.EndpointIDs = []string{""} }},
		{"duplicate endpoint", func(c *Config) { c.EndpointIDs = []string{"a", "a"} }},
		{"no token", func(c *Config) { c.AccessToken = "" }},
		{"no org", func(c *Config) { c.OrganizationID = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
