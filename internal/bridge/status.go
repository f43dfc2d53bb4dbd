package bridge

import (
	"context"
	"strconv"
	"strings"

	"github.com/vaizki/ouman2mqtt/internal/mqtt"
)

// onConnect runs on the session goroutine after every successful
// connect, before subscriptions are made. Besides discovery (with
// assume-online), it republishes "online" whenever the bridge was
// online before the reconnect: the broker fires the "offline" will when
// the old connection drops, and nothing else would overwrite it until
// the bridge next changes state.
func (d *Driver) onConnect(ctx context.Context) {
	if d.cfg.Discovery.Enabled && d.cfg.Discovery.AssumeOnline {
		d.gateway.PublishDiscovery(ctx, d.cfg.Discovery.Prefix, d.discovery)
	}
	if d.presence.Online() {
		d.presence.GoOnline(ctx, true)
	}
}

// handleMessage runs on the session goroutine for every inbound
// message, in receipt order.
func (d *Driver) handleMessage(ctx context.Context, msg mqtt.Message) {
	switch {
	case msg.Topic == mqtt.UptimeTopic:
		d.logger.Debug("broker uptime", "uptime", string(msg.Payload))
		if secs, ok := parseUptime(string(msg.Payload)); ok {
			d.metrics.SetBrokerUptime(secs)
		}
	case d.cfg.Discovery.Enabled && msg.Topic == d.cfg.Discovery.StatusTopic:
		d.handleConsumerStatus(ctx, string(msg.Payload))
	default:
		d.logger.Debug("ignoring message", "topic", msg.Topic)
	}
}

func (d *Driver) handleConsumerStatus(ctx context.Context, payload string) {
	state, ok := mqtt.ParseConsumerState(payload)
	if !ok {
		d.logger.Warn("unrecognized consumer status", "payload", payload)
		return
	}
	d.presence.SetConsumer(state)
	if state != mqtt.ConsumerOnline {
		return
	}

	// A restarted consumer has forgotten both the descriptors and our
	// availability.
	d.gateway.PublishDiscovery(ctx, d.cfg.Discovery.Prefix, d.discovery)
	if d.presence.Online() {
		d.presence.GoOnline(ctx, true)
	}
}

// parseUptime reads the leading number of a "$SYS/broker/uptime"
// payload such as "12345 seconds".
func parseUptime(payload string) (float64, bool) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return 0, false
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return secs, true
}
