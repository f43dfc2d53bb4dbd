package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/vaizki/ouman2mqtt/internal/metrics"
)

// DefaultPublishTimeout bounds a single publish so a stalled broker
// cannot block the caller indefinitely.
const DefaultPublishTimeout = 10 * time.Second

// Publisher is the part of [Session] the gateway needs.
type Publisher interface {
	Ready() bool
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// GatewayConfig configures a [Gateway].
type GatewayConfig struct {
	// Namespace prefixes every topic not published with [FullTopic].
	Namespace string
	// LogChannel enables [Gateway.Log].
	LogChannel bool
	// Timeout bounds each publish; zero uses DefaultPublishTimeout.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Gateway resolves topics, encodes payloads, and publishes through the
// session. It never returns errors to callers: failures are logged and
// counted, and the message is dropped.
type Gateway struct {
	pub    Publisher
	cfg    GatewayConfig
	logger *slog.Logger
}

// NewGateway creates a gateway publishing through pub.
func NewGateway(pub Publisher, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	cfg.Namespace = strings.TrimSuffix(cfg.Namespace, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{pub: pub, cfg: cfg, logger: logger}
}

// PublishOption adjusts a single publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	fullTopic bool
	retain    bool
	qos       byte
}

// FullTopic publishes to the topic as given, without the namespace.
func FullTopic() PublishOption {
	return func(o *publishOptions) { o.fullTopic = true }
}

// Retain sets the retain flag.
func Retain(retain bool) PublishOption {
	return func(o *publishOptions) { o.retain = retain }
}

// QoS sets the quality of service level. The default is 0.
func QoS(qos byte) PublishOption {
	return func(o *publishOptions) { o.qos = qos }
}

// Topic resolves a namespace-relative topic.
func (g *Gateway) Topic(topic string) string {
	return g.cfg.Namespace + "/" + topic
}

// Publish sends payload to topic. Strings and byte slices are sent
// unchanged; any other value is encoded as compact JSON.
func (g *Gateway) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.fullTopic {
		topic = g.Topic(topic)
	}

	if !g.pub.Ready() {
		g.cfg.Metrics.Publish(metrics.ResultNotReady)
		g.logger.Warn("mqtt publish skipped, broker not ready", "topic", topic)
		return
	}

	data, err := encodePayload(payload)
	if err != nil {
		g.cfg.Metrics.Publish(metrics.ResultEncodeError)
		g.logger.Error("mqtt payload encoding failed", "topic", topic, "error", err)
		return
	}

	g.logger.Debug("mqtt publish",
		"topic", topic,
		"payload", string(data),
		"qos", o.qos,
		"retain", o.retain,
	)

	pubCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	if err := g.pub.Publish(pubCtx, topic, data, o.qos, o.retain); err != nil {
		g.cfg.Metrics.Publish(metrics.ResultFailed)
		g.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	g.cfg.Metrics.Publish(metrics.ResultOK)
}

// Log publishes a free-text line to the namespace's log topic when the
// log channel is enabled.
func (g *Gateway) Log(ctx context.Context, format string, args ...any) {
	if !g.cfg.LogChannel {
		return
	}
	g.Publish(ctx, LogTopic, fmt.Sprintf(format, args...))
}

// PublishDiscovery publishes every discovery descriptor to
// "<prefix>/<category>/<entity>/config" in key order.
func (g *Gateway) PublishDiscovery(ctx context.Context, prefix string, configs map[string]SensorConfig) {
	if len(configs) == 0 {
		return
	}
	g.logger.Info("publishing discovery config", "entities", len(configs))

	keys := make([]string, 0, len(configs))
	for k := range configs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		g.Publish(ctx, DiscoveryTopic(prefix, k), configs[k], FullTopic(), QoS(1))
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
