package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/vaizki/ouman2mqtt/internal/metrics"
)

// ConsumerState is the last known presence of the discovery consumer.
type ConsumerState int

// Consumer presence states.
const (
	ConsumerUnknown ConsumerState = iota
	ConsumerOnline
	ConsumerOffline
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerOnline:
		return "online"
	case ConsumerOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ParseConsumerState maps a status payload to a state. Payloads other
// than "online" and "offline" are rejected.
func ParseConsumerState(payload string) (ConsumerState, bool) {
	switch strings.TrimSpace(payload) {
	case PayloadOnline:
		return ConsumerOnline, true
	case PayloadOffline:
		return ConsumerOffline, true
	default:
		return ConsumerUnknown, false
	}
}

// PresenceConfig configures a [Presence].
type PresenceConfig struct {
	// DiscoveryEnabled gates state publication on consumer presence.
	DiscoveryEnabled bool
	// AssumeConsumerOnline publishes regardless of consumer presence.
	AssumeConsumerOnline bool
	Metrics              *metrics.Metrics
}

// StatusPublisher is the part of [Gateway] presence needs.
type StatusPublisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...PublishOption)
}

// Presence tracks whether this bridge is online and whether the
// discovery consumer is reachable. Status publications are serialized
// by pubMu so that a forced republish from the session goroutine cannot
// interleave with a transition from the poll loop. mu guards only the
// flags and is never held across a publish, so readers do not wait on
// the broker.
type Presence struct {
	pub    StatusPublisher
	cfg    PresenceConfig
	logger *slog.Logger

	pubMu sync.Mutex

	mu       sync.Mutex
	online   bool
	consumer ConsumerState
}

// NewPresence creates a presence machine that starts offline with the
// consumer unknown.
func NewPresence(pub StatusPublisher, cfg PresenceConfig, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{pub: pub, cfg: cfg, logger: logger}
}

// GoOnline publishes a retained "online" status if the bridge was
// offline or force is set.
func (p *Presence) GoOnline(ctx context.Context, force bool) {
	p.transition(ctx, true, force)
}

// GoOffline publishes a retained "offline" status if the bridge was
// online or force is set.
func (p *Presence) GoOffline(ctx context.Context, force bool) {
	p.transition(ctx, false, force)
}

func (p *Presence) transition(ctx context.Context, online, force bool) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()
	p.cfg.Metrics.SetPublisherOnline(online)

	if !changed && !force {
		return
	}
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	p.logger.Info("publishing status", "status", payload, "forced", force)
	p.pub.Publish(ctx, StatusTopic, payload, Retain(true), QoS(1))
}

// Online reports this bridge's advertised presence.
func (p *Presence) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// SetConsumer records the consumer's announced presence.
func (p *Presence) SetConsumer(state ConsumerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumer != state {
		p.logger.Info("discovery consumer presence changed",
			"from", p.consumer.String(),
			"to", state.String(),
		)
	}
	p.consumer = state
	p.cfg.Metrics.SetConsumerState(state == ConsumerOnline, state != ConsumerUnknown)
}

// Consumer returns the consumer's last known presence.
func (p *Presence) Consumer() ConsumerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumer
}

// ShouldPublish reports whether state and values may be published:
// discovery is off, the consumer is online, or it is assumed online.
// Suppression never changes the bridge's own presence.
func (p *Presence) ShouldPublish() bool {
	if !p.cfg.DiscoveryEnabled || p.cfg.AssumeConsumerOnline {
		return true
	}
	return p.Consumer() == ConsumerOnline
}
