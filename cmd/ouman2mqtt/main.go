// ouman2mqtt polls an Ouman EH-800 heating controller and publishes its
// readings to an MQTT broker, optionally with Home Assistant discovery.
//
// Settings come from an optional YAML file (see
// [config.DefaultSearchPaths]) overridden by command-line flags and
// OUMAN_* environment variables:
//
//	ouman2mqtt --ouman-url http://192.168.1.50 --mqtt-broker mqtt.lan --ha-support
//	OUMAN_OUMAN_URL=http://192.168.1.50 ouman2mqtt -c /etc/ouman2mqtt/config.yaml
//
// "ouman2mqtt init [path]" writes a commented example configuration.
//
// The process runs until SIGINT, SIGTERM, or SIGHUP, then publishes an
// "offline" status and disconnects.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/vaizki/ouman2mqtt/internal/bridge"
	"github.com/vaizki/ouman2mqtt/internal/buildinfo"
	"github.com/vaizki/ouman2mqtt/internal/config"
	"github.com/vaizki/ouman2mqtt/internal/metrics"
	"github.com/vaizki/ouman2mqtt/internal/ouman"
)

// main only wires the OS environment into [run] so the whole lifecycle
// can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses args and runs the bridge until ctx is cancelled or a
// shutdown signal arrives. Logs go to stdout.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	return newCommand(stdout, stderr, serve).Run(ctx, append([]string{"ouman2mqtt"}, args...))
}

// serveFunc runs the bridge with a validated configuration. path is the
// config file that was loaded, or "".
type serveFunc func(ctx context.Context, cfg *config.Config, path string, stdout io.Writer) error

func newCommand(stdout, stderr io.Writer, start serveFunc) *cli.Command {
	return &cli.Command{
		Name:      "ouman2mqtt",
		Usage:     "bridge an Ouman EH-800 heating controller to MQTT",
		Version:   buildinfo.Summary(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     flags(),
		Commands:  []*cli.Command{initCommand(stdout)},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, path, err := buildConfig(c)
			if err != nil {
				return err
			}
			return start(ctx, cfg, path, stdout)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, path string, stdout io.Writer) error {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := config.NewLogger(stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting ouman2mqtt",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	if path != "" {
		logger.Info("config loaded", "path", path)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	device, err := ouman.NewClient(cfg.Ouman.URL, cfg.Ouman.Name,
		logger.With("component", "ouman"),
		ouman.WithTimeout(pollTimeout(cfg)),
	)
	if err != nil {
		return fmt.Errorf("create device client: %w", err)
	}

	var (
		reg = prometheus.NewRegistry()
		m   *metrics.Metrics
	)
	if cfg.MetricsAddr != "" {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
	}

	drv := bridge.New(driverConfig(cfg), device, logger, bridge.WithMetrics(m))

	if cfg.MetricsAddr != "" {
		ln, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		h := metrics.Handler(reg, drv.Health, logger)
		go func() {
			if err := metrics.Serve(ctx, ln, h, logger.With("component", "metrics")); err != nil {
				logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	return drv.Run(ctx)
}

// driverConfig maps the file/flag configuration onto the driver.
func driverConfig(cfg *config.Config) bridge.Config {
	expire, ok := cfg.ExpireAfterSeconds()
	if !ok {
		expire = 0
	}
	return bridge.Config{
		Namespace:       cfg.MQTT.Topic,
		Broker:          cfg.MQTT.Broker,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		Will:            cfg.MQTT.WillEnabled(),
		PublishInterval: cfg.MQTT.Interval(),
		PublishState:    cfg.MQTT.StateEnabled(),
		PublishValues:   cfg.MQTT.PublishValues,
		PublishLog:      cfg.MQTT.PublishLog,
		RetainState:     cfg.MQTT.RetainState,
		Discovery: bridge.DiscoveryConfig{
			Enabled:      cfg.HomeAssistant.Enabled,
			AssumeOnline: cfg.HomeAssistant.AssumeOnline,
			StatusTopic:  cfg.HomeAssistant.StatusTopic,
			Prefix:       cfg.HomeAssistant.DiscoveryPrefix,
			Instance:     cfg.HomeAssistant.Instance,
			ExpireAfter:  expire,
		},
	}
}
