// Package bridge runs the poll-publish loop that connects a polled
// device to the MQTT broker.
//
// A [Driver] owns one broker session, the publish gateway, and the
// presence state machine. Run polls the device on a fixed interval,
// advertises the bridge online or offline depending on whether the
// poll produced data, and publishes the values when the discovery
// consumer is listening. Consumer status messages arrive on the
// session goroutine and are handled by the driver as well.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/vaizki/ouman2mqtt/internal/buildinfo"
	"github.com/vaizki/ouman2mqtt/internal/metrics"
	"github.com/vaizki/ouman2mqtt/internal/mqtt"
)

// Driver timing defaults.
const (
	DefaultReadyWait    = time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Device is what the driver needs from a polled device.
type Device interface {
	// Poll fetches one snapshot of values keyed by parameter key. An
	// empty map with no error means the device answered with nothing.
	Poll(ctx context.Context) (map[string]any, error)

	// Discovery returns the Home Assistant descriptors for the device,
	// keyed "<category>/<entity>".
	Discovery(opts mqtt.DiscoveryOptions) map[string]mqtt.SensorConfig
}

// DiscoveryConfig controls Home Assistant discovery.
type DiscoveryConfig struct {
	Enabled bool
	// AssumeOnline publishes state without waiting for the consumer to
	// announce itself, and publishes discovery on every connect.
	AssumeOnline bool
	// StatusTopic is where the consumer announces its presence.
	StatusTopic string
	Prefix      string
	Instance    string
	// ExpireAfter is written into every descriptor; zero leaves it out.
	ExpireAfter int
}

// Config configures a [Driver].
type Config struct {
	// Namespace is the topic prefix for everything the bridge publishes.
	Namespace string
	Broker    string
	Username  string
	Password  string
	// Will registers "<ns>/status" = "offline" as the last will.
	Will bool

	PublishInterval time.Duration
	PublishState    bool
	PublishValues   bool
	PublishLog      bool
	RetainState     bool

	Discovery DiscoveryConfig

	// ReadyWait is how long the loop sleeps while the broker is not
	// ready. Zero uses DefaultReadyWait.
	ReadyWait time.Duration
	// DrainTimeout bounds each shutdown step. Zero uses
	// DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Phase is the driver lifecycle stage.
type Phase int32

// Lifecycle phases, in order.
const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Option configures a [Driver].
type Option func(*Driver)

// WithDialer replaces the paho connection dialer.
func WithDialer(dial mqtt.Dialer) Option {
	return func(d *Driver) { d.dial = dial }
}

// WithMetrics records into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithBackoff overrides the wait between broker connection attempts.
func WithBackoff(backoff time.Duration) Option {
	return func(d *Driver) { d.backoff = backoff }
}

// Driver polls a device and publishes its values.
type Driver struct {
	cfg     Config
	device  Device
	logger  *slog.Logger
	metrics *metrics.Metrics
	dial    mqtt.Dialer
	backoff time.Duration

	session   *mqtt.Session
	gateway   *mqtt.Gateway
	presence  *mqtt.Presence
	discovery map[string]mqtt.SensorConfig

	phase atomic.Int32
}

// New creates a driver for device. Discovery descriptors are built
// once here and never change afterwards.
func New(cfg Config, device Device, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = DefaultReadyWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	d := &Driver{
		cfg:    cfg,
		device: device,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}

	connect := mqtt.ConnectOptions{
		Broker:   cfg.Broker,
		ClientID: mqtt.ClientID(cfg.Namespace),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.Will {
		connect.Will = mqtt.StatusWill(cfg.Namespace)
	}
	var subs []string
	if cfg.Discovery.Enabled {
		subs = append(subs, cfg.Discovery.StatusTopic)
	}

	d.session = mqtt.NewSession(mqtt.SessionConfig{
		Dial:          d.dial,
		Connect:       connect,
		Backoff:       d.backoff,
		Subscriptions: subs,
		OnConnect:     d.onConnect,
		OnMessage:     d.handleMessage,
		Metrics:       d.metrics,
	}, logger.With("component", "mqtt"))

	d.gateway = mqtt.NewGateway(d.session, mqtt.GatewayConfig{
		Namespace:  cfg.Namespace,
		LogChannel: cfg.PublishLog,
		Metrics:    d.metrics,
	}, logger.With("component", "publish"))

	d.presence = mqtt.NewPresence(d.gateway, mqtt.PresenceConfig{
		DiscoveryEnabled:     cfg.Discovery.Enabled,
		AssumeConsumerOnline: cfg.Discovery.AssumeOnline,
		Metrics:              d.metrics,
	}, logger.With("component", "presence"))

	if cfg.Discovery.Enabled {
		d.discovery = d.buildDiscovery()
	}
	return d
}

// buildDiscovery asks the device for its descriptors and adds the
// publisher-side fields.
func (d *Driver) buildDiscovery() map[string]mqtt.SensorConfig {
	configs := d.device.Discovery(mqtt.DiscoveryOptions{
		StateTopic: d.gateway.Topic(mqtt.StateTopic),
		Instance:   d.cfg.Discovery.Instance,
	})
	for k, sc := range configs {
		sc.AvailabilityTopic = d.gateway.Topic(mqtt.StatusTopic)
		sc.ExpireAfter = d.cfg.Discovery.ExpireAfter
		configs[k] = sc
	}
	return configs
}

// Phase returns the current lifecycle stage.
func (d *Driver) Phase() Phase {
	return Phase(d.phase.Load())
}

func (d *Driver) setPhase(p Phase) {
	d.phase.Store(int32(p))
	d.logger.Debug("driver phase", "phase", p.String())
}

// Health returns a snapshot for the /healthz endpoint.
func (d *Driver) Health() metrics.Health {
	return metrics.Health{
		Version:         buildinfo.Version,
		Phase:           d.Phase().String(),
		BrokerReady:     d.session.Ready(),
		PublisherOnline: d.presence.Online(),
		Consumer:        d.presence.Consumer().String(),
	}
}

// Run starts the broker session and polls until ctx is cancelled. On
// the way out it publishes "offline", disconnects, and waits for the
// session goroutine. The returned error is non-nil only if the loop
// died on a panic.
func (d *Driver) Run(ctx context.Context) error {
	d.setPhase(PhaseStarting)

	// The session outlives ctx so the drain can still publish.
	sessionCtx, stopSession := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSession()
	d.session.Connect(sessionCtx)

	d.setPhase(PhaseRunning)
	d.logger.Info("poll loop started",
		"interval", d.cfg.PublishInterval.String(),
		"namespace", d.cfg.Namespace,
		"discovery", d.cfg.Discovery.Enabled,
	)

	err := d.loop(ctx)

	d.drain(stopSession)
	return err
}

func (d *Driver) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		wait, err := d.safeCycle(ctx)
		if err != nil {
			return err
		}
		if !sleepCtx(ctx, wait) {
			break
		}
	}
	d.logger.Info("shutdown requested")
	return nil
}

// safeCycle runs one cycle, turning a panic into an error that ends the
// loop.
func (d *Driver) safeCycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("poll loop panic, shutting down",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("poll loop panic: %v", r)
		}
	}()
	return d.cycle(ctx), nil
}

// cycle polls once and publishes the result. It returns how long to
// wait before the next cycle.
func (d *Driver) cycle(ctx context.Context) time.Duration {
	if !d.session.Ready() {
		d.logger.Debug("broker not ready, waiting")
		return d.cfg.ReadyWait
	}

	// Work already started finishes even if shutdown arrives meanwhile.
	work := context.WithoutCancel(ctx)

	values, err := d.device.Poll(work)
	switch {
	case err != nil:
		d.metrics.Poll(metrics.PollError)
		d.logger.Warn("device poll failed", "error", err)
		d.gateway.Log(work, "device poll failed: %v", err)
		d.presence.GoOffline(work, false)
		return d.cfg.PublishInterval
	case len(values) == 0:
		d.metrics.Poll(metrics.PollEmpty)
		d.logger.Warn("device poll returned no values")
		d.presence.GoOffline(work, false)
		return d.cfg.PublishInterval
	}
	d.metrics.Poll(metrics.PollOK)
	d.presence.GoOnline(work, false)

	if !d.presence.ShouldPublish() {
		d.logger.Debug("consumer not online, state not published",
			"consumer", d.presence.Consumer().String(),
		)
		return d.cfg.PublishInterval
	}
	d.publishValues(work, values)
	return d.cfg.PublishInterval
}

func (d *Driver) publishValues(ctx context.Context, values map[string]any) {
	if d.cfg.PublishState {
		d.gateway.Publish(ctx, mqtt.StateTopic, values, mqtt.Retain(d.cfg.RetainState))
	}
	if d.cfg.PublishValues {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			d.gateway.Publish(ctx, mqtt.ValuesTopic+"/"+k, values[k])
		}
	}
}

// drain announces offline, disconnects, and stops the session. Each
// step gets its own deadline since the caller's context is already
// cancelled.
func (d *Driver) drain(stopSession context.CancelFunc) {
	d.setPhase(PhaseDraining)

	step := func(name string, fn func(ctx context.Context)) {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(ctx)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.logger.Warn("shutdown step timed out", "step", name, "timeout", d.cfg.DrainTimeout.String())
		}
	}

	step("status", func(ctx context.Context) { d.presence.GoOffline(ctx, true) })
	step("disconnect", d.session.Disconnect)
	stopSession()
	step("session", func(context.Context) { d.session.Wait() })

	d.setPhase(PhaseStopped)
	d.logger.Info("shutdown complete")
}

// sleepCtx sleeps for dur or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
