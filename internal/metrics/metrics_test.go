package metrics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectAttempt(true)
		m.SetBrokerReady(true)
		m.SetBrokerUptime(10)
		m.Publish(ResultOK)
		m.Poll(PollOK)
		m.SetPublisherOnline(true)
		m.SetConsumerState(true, true)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectAttempt(false)
	m.ConnectAttempt(false)
	m.ConnectAttempt(true)
	m.Publish(ResultOK)
	m.Publish(ResultNotReady)
	m.Poll(PollOK)
	m.Poll(PollError)
	m.SetBrokerReady(true)
	m.SetPublisherOnline(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues(ResultNotReady)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues(PollError)))
	assert.Positive(t, testutil.ToFloat64(m.lastPoll))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.brokerReady))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publisherOnline))
}

func TestMetrics_ConsumerState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	assert.Equal(t, -1.0, testutil.ToFloat64(m.consumerState))

	m.SetConsumerState(true, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumerState))

	m.SetConsumerState(false, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.consumerState))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Poll(PollOK)

	var ready atomic.Bool
	h := Handler(reg, func() Health {
		return Health{Phase: "running", BrokerReady: ready.Load(), Consumer: "unknown"}
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `ouman2mqtt_device_polls_total{result="ok"} 1`), string(body))
	assert.True(t, strings.Contains(string(body), `ouman2mqtt_build_info{`), string(body))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ready.Store(true)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.BrokerReady)
	assert.Equal(t, "running", got.Phase)
	assert.Equal(t, "dev", got.Version)
	assert.NotEmpty(t, got.Uptime)
}

func TestListen_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, err = Listen(busy.Addr().String())
	assert.ErrorContains(t, err, "metrics listener")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, http.NotFoundHandler(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
