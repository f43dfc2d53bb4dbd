package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// Topics relative to the namespace, plus the broker introspection topic.
const (
	StatusTopic = "status"
	StateTopic  = "state"
	ValuesTopic = "values"
	LogTopic    = "log"

	UptimeTopic = "$SYS/broker/uptime"
)

// Status payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

var (
	// ErrNotReady is returned when publishing without a usable session.
	ErrNotReady = errors.New("mqtt: broker session not ready")

	// ErrClosed ends a connection that was disconnected locally.
	ErrClosed = errors.New("mqtt: connection closed")

	// ErrSubscribeRefused reports a subscription the broker denied. The
	// connection itself stays usable.
	ErrSubscribeRefused = errors.New("mqtt: subscription refused")
)

// Message is an inbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Will is the last-will message registered on connect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions describe one connection attempt.
type ConnectOptions struct {
	// Broker is a host, host:port, or URL; see [ResolveBroker].
	Broker   string
	ClientID string
	Username string
	Password string
	// KeepAlive in seconds; zero uses 30.
	KeepAlive uint16
	Will      *Will
	// Logger receives connection-level warnings. Defaults to the
	// session logger.
	Logger *slog.Logger
}

// Conn is a single established broker connection. A Conn is never
// reused after Done is closed.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(ctx context.Context, topics ...string) error
	// Messages delivers inbound publishes in receipt order.
	Messages() <-chan Message
	// Done is closed when the connection fails or is disconnected.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Disconnect(ctx context.Context) error
}

// Dialer opens a new connection.
type Dialer func(ctx context.Context, opts ConnectOptions) (Conn, error)

// StatusWill returns the will publishing "offline" to the namespace's
// status topic, retained at QoS 1.
func StatusWill(namespace string) *Will {
	return &Will{
		Topic:   namespace + "/" + StatusTopic,
		Payload: []byte(PayloadOffline),
		QoS:     1,
		Retain:  true,
	}
}

// ClientID derives the broker client identifier from the namespace.
func ClientID(namespace string) string {
	return strings.ReplaceAll(strings.Trim(namespace, "/"), "/", "-")
}

// Endpoint is a resolved broker address.
type Endpoint struct {
	// Addr is the host:port to dial.
	Addr string
	TLS  bool
	// URL is set for WebSocket endpoints only.
	URL string
}

// WebSocket reports whether MQTT is carried over WebSocket frames.
func (e Endpoint) WebSocket() bool { return e.URL != "" }

// ResolveBroker turns a broker setting into an [Endpoint]. Bare hosts
// use mqtt:// on port 1883. mqtts:// and ssl:// default to 8883, ws://
// to 80, and wss:// to 443. WebSocket endpoints without a path use
// "/mqtt".
func ResolveBroker(broker string) (Endpoint, error) {
	if !strings.Contains(broker, "://") {
		broker = "mqtt://" + broker
	}
	u, err := url.Parse(broker)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse broker address: %w", err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("broker address %q has no host", broker)
	}

	var ep Endpoint
	port := "1883"
	switch u.Scheme {
	case "mqtt", "tcp":
	case "mqtts", "ssl", "tls":
		ep.TLS = true
		port = "8883"
	case "ws":
		port = "80"
	case "wss":
		ep.TLS = true
		port = "443"
	default:
		return Endpoint{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	ep.Addr = net.JoinHostPort(u.Hostname(), port)

	if u.Scheme == "ws" || u.Scheme == "wss" {
		if u.Path == "" {
			u.Path = "/mqtt"
		}
		u.Host = ep.Addr
		ep.URL = u.String()
	}
	return ep, nil
}
