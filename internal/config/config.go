// Package config handles ouman2mqtt configuration loading.
//
// Configuration comes from an optional YAML file; command-line flags and
// OUMAN_* environment variables are layered on top by the command.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Default] and [Config.ApplyDefaults].
const (
	DefaultBroker          = "127.0.0.1"
	DefaultTopic           = "ouman2mqtt/ouman"
	DefaultPublishInterval = 15
	DefaultInstance        = "ouman"
	DefaultStatusTopic     = "homeassistant/status"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultDeviceName      = "Ouman EH-800"
	DefaultDeviceTimeout   = 10 * time.Second

	// ExpireAfterAuto derives expire_after from the publish interval.
	ExpireAfterAuto = -1
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./ouman2mqtt.yaml,
// ~/.config/ouman2mqtt/config.yaml, /etc/ouman2mqtt/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"ouman2mqtt.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ouman2mqtt", "config.yaml"))
	}

	paths = append(paths, "/etc/ouman2mqtt/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise the first existing entry of [DefaultSearchPaths] is
// returned, or "" when none exists. A config file is optional because
// every setting can also be given on the command line.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all ouman2mqtt configuration.
type Config struct {
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Ouman         OumanConfig         `yaml:"ouman"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"`
	// MetricsAddr enables the /metrics and /healthz listener when set.
	MetricsAddr string `yaml:"metrics_addr"`
}

// MQTTConfig defines the broker connection and publish policy.
type MQTTConfig struct {
	// Broker is a host, host:port, or URL (mqtt://, tcp://, mqtts://,
	// ssl://, ws://, wss://).
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic is the namespace prefixing every topic this bridge publishes.
	Topic string `yaml:"topic"`
	// Will registers "<topic>/status" = "offline" as the last will.
	Will *bool `yaml:"will"`
	// PublishState publishes the aggregate JSON object to "<topic>/state".
	PublishState *bool `yaml:"publish_state"`
	// PublishValues publishes every value to "<topic>/values/<key>".
	PublishValues bool `yaml:"publish_values"`
	// PublishLog enables the free-text "<topic>/log" diagnostic channel.
	PublishLog bool `yaml:"publish_log"`
	// PublishInterval is the poll period in seconds.
	PublishInterval int  `yaml:"publish_interval"`
	RetainState     bool `yaml:"retain_state"`
}

// HomeAssistantConfig defines MQTT discovery settings.
type HomeAssistantConfig struct {
	Enabled bool `yaml:"enabled"`
	// Instance prefixes entity unique ids and object ids.
	Instance string `yaml:"instance"`
	// ExpireAfter is seconds without updates before HA marks an entity
	// unavailable. -1 derives 3*interval+1; 0 omits the field.
	ExpireAfter *int `yaml:"expire_after"`
	// AssumeOnline publishes state even before HA announces itself.
	AssumeOnline    bool   `yaml:"assume_online"`
	StatusTopic     string `yaml:"status_topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// OumanConfig defines the polled device.
type OumanConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// WillEnabled reports whether the last-will message is registered.
func (c MQTTConfig) WillEnabled() bool {
	return c.Will == nil || *c.Will
}

// StateEnabled reports whether the aggregate state object is published.
func (c MQTTConfig) StateEnabled() bool {
	return c.PublishState == nil || *c.PublishState
}

// Interval returns the publish interval as a duration.
func (c MQTTConfig) Interval() time.Duration {
	return time.Duration(c.PublishInterval) * time.Second
}

// ExpireAfterSeconds resolves the configured expiry. The second return
// value is false when expire_after must be omitted from discovery
// payloads.
func (c *Config) ExpireAfterSeconds() (int, bool) {
	v := ExpireAfterAuto
	if c.HomeAssistant.ExpireAfter != nil {
		v = *c.HomeAssistant.ExpireAfter
	}
	switch {
	case v < 0:
		return c.MQTT.PublishInterval*3 + 1, true
	case v == 0:
		return 0, false
	default:
		return v, true
	}
}

// Load reads configuration from a YAML file on top of [Default].
// Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = DefaultBroker
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = DefaultTopic
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = DefaultPublishInterval
	}
	if c.HomeAssistant.Instance == "" {
		c.HomeAssistant.Instance = DefaultInstance
	}
	if c.HomeAssistant.StatusTopic == "" {
		c.HomeAssistant.StatusTopic = DefaultStatusTopic
	}
	if c.HomeAssistant.DiscoveryPrefix == "" {
		c.HomeAssistant.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.Ouman.Name == "" {
		c.Ouman.Name = DefaultDeviceName
	}
	if c.Ouman.Timeout == 0 {
		c.Ouman.Timeout = DefaultDeviceTimeout
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks the configuration for errors that would make the
// bridge unable to start. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Ouman.URL == "" {
		errs = append(errs, errors.New("ouman.url is required"))
	} else if u, err := url.Parse(c.Ouman.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ouman.url %q is not an absolute URL", c.Ouman.URL))
	}
	if c.MQTT.PublishInterval <= 0 {
		errs = append(errs, fmt.Errorf("mqtt.publish_interval must be positive, got %d", c.MQTT.PublishInterval))
	}
	if strings.Trim(c.MQTT.Topic, "/") == "" {
		errs = append(errs, errors.New("mqtt.topic must not be empty"))
	}
	if strings.ContainsAny(c.MQTT.Topic, "+#") {
		errs = append(errs, fmt.Errorf("mqtt.topic %q must not contain wildcards", c.MQTT.Topic))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Ouman.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ouman.timeout must not be negative, got %s", c.Ouman.Timeout))
	}

	return errors.Join(errs...)
}
