package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// fakeConn is an in-memory [Conn].
type fakeConn struct {
	mu          sync.Mutex
	published   []published
	subscribed  []string
	refuse      map[string]bool
	disconnects int

	msgs chan Message
	once sync.Once
	done chan struct{}
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan Message, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, string(payload), qos, retain})
	return nil
}

func (c *fakeConn) Subscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if c.refuse[t] {
			return ErrSubscribeRefused
		}
		c.subscribed = append(c.subscribed, t)
	}
	return nil
}

func (c *fakeConn) Messages() <-chan Message { return c.msgs }

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
	c.drop(ErrClosed)
	return errors.New("already gone")
}

// drop ends the connection as if the network failed.
func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) deliver(topic, payload string) {
	c.msgs <- Message{Topic: topic, Payload: []byte(payload)}
}

func (c *fakeConn) Published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func (c *fakeConn) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// fakeDialer fails the first failures attempts, then hands out fresh
// fakeConns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	attempts []time.Time
	conns    []*fakeConn
	opts     []ConnectOptions
	refuse   map[string]bool
}

func (d *fakeDialer) Dial(ctx context.Context, opts ConnectOptions) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, time.Now())
	d.opts = append(d.opts, opts)
	if len(d.attempts) <= d.failures {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	c.refuse = d.refuse
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Attempts() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) ConnCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
