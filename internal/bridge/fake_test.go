package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/vaizki/ouman2mqtt/internal/mqtt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pub struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

type fakeConn struct {
	mu          sync.Mutex
	pubs        []pub
	subs        []string
	disconnects int

	msgs chan mqtt.Message
	once sync.Once
	done chan struct{}
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan mqtt.Message, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	select {
	case <-c.done:
		return mqtt.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, pub{topic, string(payload), qos, retain})
	return nil
}

func (c *fakeConn) Subscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, topics...)
	return nil
}

func (c *fakeConn) Messages() <-chan mqtt.Message { return c.msgs }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.drop(mqtt.ErrClosed)
	return nil
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) deliver(topic, payload string) {
	c.msgs <- mqtt.Message{Topic: topic, Payload: []byte(payload)}
}

func (c *fakeConn) Pubs() []pub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pub(nil), c.pubs...)
}

// On returns the publishes to topic.
func (c *fakeConn) On(topic string) []pub {
	var out []pub
	for _, p := range c.Pubs() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Count returns how many times payload was published to topic.
func (c *fakeConn) Count(topic, payload string) int {
	n := 0
	for _, p := range c.On(topic) {
		if p.Payload == payload {
			n++
		}
	}
	return n
}

func (c *fakeConn) Subs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subs...)
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	opts  []mqtt.ConnectOptions
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, opts mqtt.ConnectOptions) (mqtt.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = append(d.opts, opts)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opts)
}

func (d *fakeDialer) Options(i int) mqtt.ConnectOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[i]
}

type fakeDevice struct {
	mu      sync.Mutex
	polls   int
	poll    func(n int) (map[string]any, error)
	configs map[string]mqtt.SensorConfig
	opts    mqtt.DiscoveryOptions
}

func (f *fakeDevice) Poll(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	poll := f.poll
	f.mu.Unlock()
	if poll == nil {
		return map[string]any{"outside_t": 15.3, "L1_control": "forced_small_drop"}, nil
	}
	return poll(n)
}

func (f *fakeDevice) Discovery(opts mqtt.DiscoveryOptions) map[string]mqtt.SensorConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	out := make(map[string]mqtt.SensorConfig, len(f.configs))
	for k, v := range f.configs {
		out[k] = v
	}
	return out
}

func (f *fakeDevice) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}
