// Package metrics exposes Prometheus collectors for the bridge and an
// optional HTTP listener serving /metrics and /healthz.
//
// All recording methods are safe to call on a nil *Metrics, so
// components can take a metrics handle without checking whether the
// listener is enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaizki/ouman2mqtt/internal/buildinfo"
)

const namespace = "ouman2mqtt"

// Publish results recorded by [Metrics.Publish].
const (
	ResultOK          = "ok"
	ResultFailed      = "failed"
	ResultNotReady    = "not_ready"
	ResultEncodeError = "encode_error"
)

// Poll results recorded by [Metrics.Poll].
const (
	PollOK    = "ok"
	PollEmpty = "empty"
	PollError = "error"
)

// Metrics holds every collector the bridge records into.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	brokerReady     prometheus.Gauge
	brokerUptime    prometheus.Gauge
	publishes       *prometheus.CounterVec
	polls           *prometheus.CounterVec
	lastPoll        prometheus.Gauge
	publisherOnline prometheus.Gauge
	consumerState   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_connect_attempts_total",
				Help:      "Broker connection attempts by result",
			},
			[]string{"result"},
		),
		brokerReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_ready",
			Help:      "1 if the broker session is usable, 0 otherwise",
		}),
		brokerUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_uptime_seconds",
			Help:      "Broker uptime as last reported on $SYS/broker/uptime",
		}),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_total",
				Help:      "MQTT publish attempts by result",
			},
			[]string{"result"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_polls_total",
				Help:      "Device polls by result",
			},
			[]string{"result"},
		),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_last_poll_timestamp_seconds",
			Help:      "Unix timestamp of the last poll that returned data",
		}),
		publisherOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publisher_online",
			Help:      "1 if this bridge advertises itself online",
		}),
		consumerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_online",
			Help:      "Discovery consumer presence: 1 online, 0 offline, -1 unknown",
		}),
	}
	m.consumerState.Set(-1)

	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Always 1, labelled with the running build",
		ConstLabels: buildinfo.Labels(),
	})
	build.Set(1)

	reg.MustRegister(
		build,
		m.connectAttempts,
		m.brokerReady,
		m.brokerUptime,
		m.publishes,
		m.polls,
		m.lastPoll,
		m.publisherOnline,
		m.consumerState,
	)
	return m
}

// ConnectAttempt records a broker connection attempt.
func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connectAttempts.WithLabelValues(ResultOK).Inc()
	} else {
		m.connectAttempts.WithLabelValues(ResultFailed).Inc()
	}
}

// SetBrokerReady records the broker readiness signal.
func (m *Metrics) SetBrokerReady(ready bool) {
	if m == nil {
		return
	}
	m.brokerReady.Set(boolFloat(ready))
}

// SetBrokerUptime records the broker's self-reported uptime.
func (m *Metrics) SetBrokerUptime(seconds float64) {
	if m == nil {
		return
	}
	m.brokerUptime.Set(seconds)
}

// Publish records the outcome of one publish attempt.
func (m *Metrics) Publish(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

// Poll records the outcome of one device poll.
func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	if result == PollOK {
		m.lastPoll.SetToCurrentTime()
	}
}

// SetPublisherOnline records this bridge's advertised presence.
func (m *Metrics) SetPublisherOnline(online bool) {
	if m == nil {
		return
	}
	m.publisherOnline.Set(boolFloat(online))
}

// SetConsumerState records the consumer presence; known is false while
// the consumer has not announced itself.
func (m *Metrics) SetConsumerState(online, known bool) {
	if m == nil {
		return
	}
	switch {
	case !known:
		m.consumerState.Set(-1)
	default:
		m.consumerState.Set(boolFloat(online))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
