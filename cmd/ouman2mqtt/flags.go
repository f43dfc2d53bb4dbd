package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/vaizki/ouman2mqtt/internal/config"
)

// envPrefix prefixes the environment variable of every flag.
const envPrefix = "OUMAN_"

// fromEnv binds a flag to OUMAN_<FLAG_NAME>.
func fromEnv(flag string) cli.ValueSourceChain {
	name := envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
	return cli.NewValueSourceChain(cli.EnvVar(name))
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file (default: search ./ouman2mqtt.yaml, ~/.config/ouman2mqtt/config.yaml, /etc/ouman2mqtt/config.yaml)",
			Sources: fromEnv("config"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log level: trace, debug, info, warn, error",
			Sources: fromEnv("log-level"),
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "enable debug logs",
			Sources: fromEnv("debug"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log format: text or json",
			Sources: fromEnv("log-format"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "listen address for /metrics and /healthz, disabled when empty; startup fails if it cannot be bound",
			Sources: fromEnv("metrics-addr"),
		},

		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "broker host, host:port, or mqtt://, mqtts://, ws://, wss:// URL (default: " + config.DefaultBroker + ")",
			Sources: fromEnv("mqtt-broker"),
		},
		&cli.StringFlag{
			Name:    "mqtt-topic",
			Usage:   "topic namespace (default: " + config.DefaultTopic + ")",
			Sources: fromEnv("mqtt-topic"),
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Usage:   "broker username",
			Sources: fromEnv("mqtt-username"),
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "broker password",
			Sources: fromEnv("mqtt-password"),
		},
		&cli.BoolFlag{
			Name:    "mqtt-will",
			Usage:   "register <topic>/status=offline as last will (default: true)",
			Sources: fromEnv("mqtt-will"),
		},
		&cli.BoolFlag{
			Name:    "mqtt-publish-state",
			Usage:   "publish all values as JSON to <topic>/state (default: true)",
			Sources: fromEnv("mqtt-publish-state"),
		},
		&cli.BoolFlag{
			Name:    "mqtt-publish-values",
			Usage:   "publish each value to <topic>/values/<key>",
			Sources: fromEnv("mqtt-publish-values"),
		},
		&cli.BoolFlag{
			Name:    "mqtt-publish-log",
			Usage:   "publish diagnostics to <topic>/log",
			Sources: fromEnv("mqtt-publish-log"),
		},
		&cli.IntFlag{
			Name:    "mqtt-publish-interval",
			Aliases: []string{"i"},
			Usage:   "seconds between polls (default: 15)",
			Sources: fromEnv("mqtt-publish-interval"),
		},
		&cli.BoolFlag{
			Name:    "mqtt-retain-state",
			Usage:   "publish <topic>/state retained",
			Sources: fromEnv("mqtt-retain-state"),
		},

		&cli.BoolFlag{
			Name:    "ha-support",
			Usage:   "enable Home Assistant MQTT discovery",
			Sources: fromEnv("ha-support"),
		},
		&cli.StringFlag{
			Name:    "ha-instance",
			Usage:   "prefix for entity ids (default: " + config.DefaultInstance + ")",
			Sources: fromEnv("ha-instance"),
		},
		&cli.IntFlag{
			Name:    "ha-expire-after",
			Usage:   "seconds before HA marks entities unavailable; -1 derives 3*interval+1, 0 disables (default: -1)",
			Sources: fromEnv("ha-expire-after"),
		},
		&cli.BoolFlag{
			Name:    "ha-assume-online",
			Usage:   "publish state without waiting for HA to announce itself",
			Sources: fromEnv("ha-assume-online"),
		},
		&cli.StringFlag{
			Name:    "ha-status-topic",
			Usage:   "topic where HA announces online/offline (default: " + config.DefaultStatusTopic + ")",
			Sources: fromEnv("ha-status-topic"),
		},
		&cli.StringFlag{
			Name:    "ha-discovery-prefix",
			Usage:   "HA discovery topic prefix (default: " + config.DefaultDiscoveryPrefix + ")",
			Sources: fromEnv("ha-discovery-prefix"),
		},

		&cli.StringFlag{
			Name:    "ouman-url",
			Usage:   "HTTP URL of the Ouman web interface (required)",
			Sources: fromEnv("ouman-url"),
		},
		&cli.StringFlag{
			Name:    "ouman-name",
			Usage:   "device name shown in HA (default: " + config.DefaultDeviceName + ")",
			Sources: fromEnv("ouman-name"),
		},
		&cli.DurationFlag{
			Name:    "ouman-timeout",
			Usage:   "timeout of one device poll (default: 10s)",
			Sources: fromEnv("ouman-timeout"),
		},
	}
}

// buildConfig loads the YAML file, if any, and applies every flag or
// environment variable that was set on top of it. It returns the
// config file path used, or "" when none was found.
func buildConfig(c *cli.Command) (*config.Config, string, error) {
	path, err := config.FindConfig(c.String("config"))
	if err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, "", err
		}
	}

	setString(c, "log-level", &cfg.LogLevel)
	if c.IsSet("debug") && c.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	setString(c, "log-format", &cfg.LogFormat)
	setString(c, "metrics-addr", &cfg.MetricsAddr)

	setString(c, "mqtt-broker", &cfg.MQTT.Broker)
	setString(c, "mqtt-topic", &cfg.MQTT.Topic)
	setString(c, "mqtt-username", &cfg.MQTT.Username)
	setString(c, "mqtt-password", &cfg.MQTT.Password)
	setBoolPtr(c, "mqtt-will", &cfg.MQTT.Will)
	setBoolPtr(c, "mqtt-publish-state", &cfg.MQTT.PublishState)
	setBool(c, "mqtt-publish-values", &cfg.MQTT.PublishValues)
	setBool(c, "mqtt-publish-log", &cfg.MQTT.PublishLog)
	setInt(c, "mqtt-publish-interval", &cfg.MQTT.PublishInterval)
	setBool(c, "mqtt-retain-state", &cfg.MQTT.RetainState)

	setBool(c, "ha-support", &cfg.HomeAssistant.Enabled)
	setString(c, "ha-instance", &cfg.HomeAssistant.Instance)
	if c.IsSet("ha-expire-after") {
		v := c.Int("ha-expire-after")
		cfg.HomeAssistant.ExpireAfter = &v
	}
	setBool(c, "ha-assume-online", &cfg.HomeAssistant.AssumeOnline)
	setString(c, "ha-status-topic", &cfg.HomeAssistant.StatusTopic)
	setString(c, "ha-discovery-prefix", &cfg.HomeAssistant.DiscoveryPrefix)

	setString(c, "ouman-url", &cfg.Ouman.URL)
	setString(c, "ouman-name", &cfg.Ouman.Name)
	if c.IsSet("ouman-timeout") {
		cfg.Ouman.Timeout = c.Duration("ouman-timeout")
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}

func setString(c *cli.Command, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

func setBool(c *cli.Command, name string, dst *bool) {
	if c.IsSet(name) {
		*dst = c.Bool(name)
	}
}

func setBoolPtr(c *cli.Command, name string, dst **bool) {
	if c.IsSet(name) {
		v := c.Bool(name)
		*dst = &v
	}
}

func setInt(c *cli.Command, name string, dst *int) {
	if c.IsSet(name) {
		*dst = c.Int(name)
	}
}

// pollTimeout is how long one device poll may take.
func pollTimeout(cfg *config.Config) time.Duration {
	if cfg.Ouman.Timeout > 0 {
		return cfg.Ouman.Timeout
	}
	return config.DefaultDeviceTimeout
}
