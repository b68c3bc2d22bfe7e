// Package config loads the scraper configuration. Values are layered:
// defaults, then an optional YAML file, then environment variables, then
// command line flags that were set explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DefaultScanInterval = 5 // minutes
	DefaultBaseURL      = "https://pulse.neat.no/api/v1"
)

type Config struct {
	AccessToken    string   `yaml:"access_token"`
	OrganizationID string   `yaml:"organization_id"`
	EndpointIDs    []string `yaml:"endpoint_ids"`
	// ScanInterval is the poll interval in minutes.
	ScanInterval int    `yaml:"scan_interval"`
	BaseURL      string `yaml:"base_url"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	MQTT  MQTTConfig  `yaml:"mqtt"`
	Redis RedisConfig `yaml:"redis"`
}

// MQTTConfig enables the Home Assistant bridge when Broker is set.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
}

// RedisConfig enables the reading snapshot store when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

func Default() *Config {
	return &Config{
		ScanInterval: DefaultScanInterval,
		BaseURL:      DefaultBaseURL,
		LogLevel:     "info",
		MetricsAddr:  ":9090",
		Redis:        RedisConfig{TTL: 24 * time.Hour},
	}
}

// Load overlays the YAML file at path onto cfg. Environment variables in
// the file are expanded first.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays every variable that is set and non-empty.
func (c *Config) LoadFromEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("PULSE_ACCESS_TOKEN", &c.AccessToken)
	setString("PULSE_ORGANIZATION_ID", &c.OrganizationID)
	if v := os.Getenv("PULSE_ENDPOINTS"); v != "" {
		c.EndpointIDs = splitList(v)
	}
	if err := setInt("PULSE_SCAN_INTERVAL", &c.ScanInterval); err != nil {
		return err
	}
	setString("PULSE_BASE_URL", &c.BaseURL)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("METRICS_ADDR", &c.MetricsAddr)

	setString("MQTT_BROKER", &c.MQTT.Broker)
	setString("MQTT_USERNAME", &c.MQTT.Username)
	setString("MQTT_PASSWORD", &c.MQTT.Password)
	setString("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	setString("MQTT_DISCOVERY_PREFIX", &c.MQTT.DiscoveryPrefix)
	setString("MQTT_BASE_TOPIC", &c.MQTT.BaseTopic)

	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	if err := setInt("REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	return nil
}

// Parse builds a Config from defaults, the file named by --config, the
// environment and the remaining flags.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("pulse-scraper", pflag.ContinueOnError)

	var (
		path      string
		flagCfg   Config
		endpoints []string
	)
	fs.StringVarP(&path, "config", "c", os.Getenv("PULSE_CONFIG"), "Path to a YAML config file")
	fs.StringVarP(&flagCfg.AccessToken, "token", "t", "", "Pulse API access token")
	fs.StringVarP(&flagCfg.OrganizationID, "org", "o", "", "Pulse organization id")
	fs.StringSliceVarP(&endpoints, "endpoints", "e", nil, "Comma-separated list of endpoint ids")
	fs.IntVarP(&flagCfg.ScanInterval, "interval", "i", DefaultScanInterval, "Poll interval in minutes")
	fs.StringVar(&flagCfg.BaseURL, "base-url", DefaultBaseURL, "Pulse API base url")
	fs.StringVar(&flagCfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&flagCfg.MetricsAddr, "metrics-addr", ":9090", "Listen address for /metrics, empty disables it")
	fs.StringVar(&flagCfg.MQTT.Broker, "mqtt-broker", "", "MQTT broker url, e.g. mqtt://localhost:1883")
	fs.StringVar(&flagCfg.MQTT.DiscoveryPrefix, "mqtt-discovery-prefix", "", "Home Assistant discovery prefix")
	fs.StringVar(&flagCfg.Redis.Addr, "redis-addr", "", "Redis address for reading snapshots")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "token":
			cfg.AccessToken = flagCfg.AccessToken
		case "org":
			cfg.OrganizationID = flagCfg.OrganizationID
		case "endpoints":
			cfg.EndpointIDs = endpoints
		case "interval":
			cfg.ScanInterval = flagCfg.ScanInterval
		case "base-url":
			cfg.BaseURL = flagCfg.BaseURL
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "metrics-addr":
			cfg.MetricsAddr = flagCfg.MetricsAddr
		case "mqtt-broker":
			cfg.MQTT.Broker = flagCfg.MQTT.Broker
		case "mqtt-discovery-prefix":
			cfg.MQTT.DiscoveryPrefix = flagCfg.MQTT.DiscoveryPrefix
		case "redis-addr":
			cfg.Redis.Addr = flagCfg.Redis.Addr
		}
	})

	return cfg, nil
}

// Validate checks that the configuration can drive the scraper.
func (c *Config) Validate() error {
	var errs []error
	if c.AccessToken == "" {
		errs = append(errs, errors.New("access token is required"))
	}
	if c.OrganizationID == "" {
		errs = append(errs, errors.New("organization id is required"))
	}
	if len(c.EndpointIDs) == 0 {
		errs = append(errs, errors.New("at least one endpoint id is required"))
	}
	seen := make(map[string]bool, len(c.EndpointIDs))
	for _, id := range c.EndpointIDs {
		if id == "" {
			errs = append(errs, errors.New("endpoint id must not be empty"))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate endpoint id %q", id))
		}
		seen[id] = true
	}
	if c.ScanInterval < 1 {
		errs = append(errs, fmt.Errorf("scan interval must be a positive number of minutes, got %d", c.ScanInterval))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Interval returns the poll interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.ScanInterval) * time.Minute
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
