package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// inboundBuffer bounds how many received messages may wait for the
// session goroutine. Messages arriving while it is full are dropped.
const inboundBuffer = 256

// DialPaho is the production [Dialer]. It opens a TCP, TLS, or
// WebSocket connection and performs an MQTT v5 CONNECT with a clean
// start.
func DialPaho(ctx context.Context, opts ConnectOptions) (Conn, error) {
	ep, err := ResolveBroker(opts.Broker)
	if err != nil {
		return nil, err
	}

	nc, err := dialEndpoint(ctx, ep)
	if err != nil {
		return nil, err
	}
	addr := ep.Addr

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &pahoConn{
		netConn: nc,
		logger:  logger,
		msgs:    make(chan Message, inboundBuffer),
		done:    make(chan struct{}),
	}
	c.client = paho.NewClient(paho.ClientConfig{
		ClientID:          opts.ClientID,
		Conn:              nc,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){c.onPublish},
		OnClientError:     c.fail,
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.fail(fmt.Errorf("mqtt: server disconnect, reason code %d", d.ReasonCode))
		},
	})

	keepAlive := opts.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}
	cp := &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}
	if opts.Username != "" {
		cp.Username = opts.Username
		cp.UsernameFlag = true
	}
	if opts.Password != "" {
		cp.Password = []byte(opts.Password)
		cp.PasswordFlag = true
	}
	if opts.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   opts.Will.Topic,
			Payload: opts.Will.Payload,
			QoS:     opts.Will.QoS,
			Retain:  opts.Will.Retain,
		}
	}

	if _, err := c.client.Connect(ctx, cp); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("mqtt connect %s: %w", addr, err)
	}
	return c, nil
}

func dialEndpoint(ctx context.Context, ep Endpoint) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(ep.Addr)
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	}

	var (
		nc  net.Conn
		err error
	)
	switch {
	case ep.WebSocket():
		nc, err = dialWebSocket(ctx, ep.URL, tlsConfig)
	case ep.TLS:
		d := &tls.Dialer{Config: tlsConfig}
		nc, err = d.DialContext(ctx, "tcp", ep.Addr)
	default:
		var d net.Dialer
		nc, err = d.DialContext(ctx, "tcp", ep.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Addr, err)
	}
	return nc, nil
}

// pahoConn adapts a connected paho.Client to [Conn].
type pahoConn struct {
	client  *paho.Client
	netConn net.Conn
	logger  *slog.Logger
	msgs    chan Message

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// onPublish runs on paho's read goroutine, which also reads the acks
// for our own QoS 1 publishes. It must never block: the session
// goroutine may itself be waiting on such an ack inside OnMessage.
func (c *pahoConn) onPublish(pr paho.PublishReceived) (bool, error) {
	msg := Message{
		Topic:    pr.Packet.Topic,
		Payload:  pr.Packet.Payload,
		Retained: pr.Packet.Retain,
	}
	select {
	case <-c.done:
	case c.msgs <- msg:
	default:
		c.logger.Warn("inbound mqtt queue full, dropping message",
			"topic", msg.Topic,
			"queued", len(c.msgs),
		)
	}
	return true, nil
}

func (c *pahoConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	return err
}

func (c *pahoConn) Subscribe(ctx context.Context, topics ...string) error {
	subs := make([]paho.SubscribeOptions, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: 0})
	}
	sa, err := c.client.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
	if err != nil {
		if sa != nil {
			// A SUBACK arrived but carried a failure reason code.
			return fmt.Errorf("%w: %v", ErrSubscribeRefused, err)
		}
		return err
	}
	for i, code := range sa.Reasons {
		if code >= 0x80 && i < len(topics) {
			return fmt.Errorf("%w: %q, reason code %d", ErrSubscribeRefused, topics[i], code)
		}
	}
	return nil
}

func (c *pahoConn) Messages() <-chan Message { return c.msgs }

func (c *pahoConn) Done() <-chan struct{} { return c.done }

func (c *pahoConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pahoConn) Disconnect(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	c.fail(ErrClosed)
	_ = c.netConn.Close()
	return err
}
