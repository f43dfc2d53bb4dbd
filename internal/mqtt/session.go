package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaizki/ouman2mqtt/internal/metrics"
)

// Session timing defaults.
const (
	DefaultBackoff        = time.Second
	DefaultConnectTimeout = 10 * time.Second
	disconnectTimeout     = 5 * time.Second
)

// SessionConfig configures a [Session].
type SessionConfig struct {
	// Dial opens connections. Defaults to [DialPaho].
	Dial    Dialer
	Connect ConnectOptions

	// Backoff is the fixed wait between connection attempts.
	Backoff time.Duration

	// ConnectTimeout bounds a single dial + CONNECT exchange.
	ConnectTimeout time.Duration

	// Subscriptions are topic filters subscribed after every connect, in
	// addition to [UptimeTopic].
	Subscriptions []string

	// OnConnect runs on the session goroutine after the session becomes
	// ready and before subscribing.
	OnConnect func(ctx context.Context)

	// OnMessage runs on the session goroutine for each received message.
	// The next message is not read until it returns.
	OnMessage func(ctx context.Context, msg Message)

	Metrics *metrics.Metrics
}

// Session keeps one broker connection alive for the life of the
// process. Readiness is set and cleared only by the session itself;
// everything else just reads it.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	ready   atomic.Bool
	started atomic.Bool
	once    sync.Once
	done    chan struct{}

	mu   sync.Mutex
	conn Conn
}

// NewSession creates a session. Call [Session.Connect] to start it.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if cfg.Dial == nil {
		cfg.Dial = DialPaho
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Connect.Logger == nil {
		cfg.Connect.Logger = logger
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Connect starts the background reconnect loop. Only the first call has
// any effect. The loop runs until ctx is cancelled.
func (s *Session) Connect(ctx context.Context) {
	s.once.Do(func() {
		s.started.Store(true)
		go s.run(ctx)
	})
}

// Ready reports whether the session can currently publish.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Wait blocks until the reconnect loop has exited. It returns
// immediately if Connect was never called.
func (s *Session) Wait() {
	if !s.started.Load() {
		return
	}
	<-s.done
}

// Publish sends one message on the current connection.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	return conn.Publish(ctx, topic, payload, qos, retain)
}

// Disconnect closes the current connection. It is a no-op when the
// session is not ready. Disconnect errors are logged, never returned:
// this runs during shutdown where there is nothing left to recover.
func (s *Session) Disconnect(ctx context.Context) {
	if !s.ready.Load() {
		return
	}
	s.logger.Debug("disconnecting from mqtt broker")
	s.setReady(false)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Disconnect(ctx); err != nil {
		s.logger.Debug("mqtt disconnect failed (ignored)", "error", err)
	}
}

func (s *Session) setReady(ready bool) {
	s.ready.Store(ready)
	s.cfg.Metrics.SetBrokerReady(ready)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		s.logger.Info("connecting to mqtt broker",
			"broker", s.cfg.Connect.Broker,
			"client_id", s.cfg.Connect.ClientID,
			"attempt", attempt,
		)
		conn, err := s.dial(ctx)
		if err != nil {
			s.cfg.Metrics.ConnectAttempt(false)
			s.logger.Error("mqtt broker connect failed",
				"broker", s.cfg.Connect.Broker,
				"error", err,
				"retry_in", s.cfg.Backoff.String(),
			)
			if !sleepCtx(ctx, s.cfg.Backoff) {
				return
			}
			continue
		}
		s.cfg.Metrics.ConnectAttempt(true)
		attempt = 0

		err = s.serve(ctx, conn)
		s.teardown(conn)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			s.logger.Info("mqtt session closed")
		} else {
			s.logger.Warn("mqtt session error, reconnecting",
				"error", err,
				"retry_in", s.cfg.Backoff.String(),
			)
		}
		if !sleepCtx(ctx, s.cfg.Backoff) {
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.cfg.Dial(dialCtx, s.cfg.Connect)
}

// serve runs one connected session until the connection ends.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setReady(true)
	s.logger.Info("connected to mqtt broker", "broker", s.cfg.Connect.Broker)

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(ctx)
	}

	topics := append([]string{UptimeTopic}, s.cfg.Subscriptions...)
	for _, topic := range topics {
		s.logger.Debug("mqtt subscribe", "topic", topic)
		if err := conn.Subscribe(ctx, topic); err != nil {
			if errors.Is(err, ErrSubscribeRefused) {
				s.logger.Warn("mqtt subscription refused by broker", "topic", topic, "error", err)
				continue
			}
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return conn.Err()
		case msg := <-conn.Messages():
			s.logger.Debug("mqtt message received",
				"topic", msg.Topic,
				"payload", string(msg.Payload),
			)
			if s.cfg.OnMessage != nil {
				s.cfg.OnMessage(ctx, msg)
			}
		}
	}
}

// teardown clears readiness and disconnects conn if the session still
// owns it. [Session.Disconnect] may already have taken it.
func (s *Session) teardown(conn Conn) {
	s.mu.Lock()
	owned := s.conn == conn
	if owned {
		s.conn = nil
	}
	s.mu.Unlock()
	if !owned {
		return
	}
	s.setReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		s.logger.Debug("mqtt disconnect failed (ignored)", "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
