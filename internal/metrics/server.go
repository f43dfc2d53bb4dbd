package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaizki/ouman2mqtt/internal/buildinfo"
)

// Health is the /healthz response body.
type Health struct {
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	Phase           string `json:"phase"`
	BrokerReady     bool   `json:"broker_ready"`
	PublisherOnline bool   `json:"publisher_online"`
	Consumer        string `json:"consumer"`
}

// HealthFunc reports the current bridge health.
type HealthFunc func() Health

// Handler returns a mux serving Prometheus metrics from g on
// GET /metrics and the health snapshot on GET /healthz. /healthz
// answers 503 while the broker session is not ready.
func Handler(g prometheus.Gatherer, health HealthFunc, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h := health()
		h.Version = buildinfo.Version
		h.Uptime = buildinfo.Uptime().String()
		w.Header().Set("Content-Type", "application/json")
		if !h.BrokerReady {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(h); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	return mux
}

// Listen binds addr for [Serve]. Binding happens before the bridge
// starts so that an unusable address fails startup.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	return ln, nil
}

// Serve runs an HTTP server on ln until ctx is cancelled, then shuts it
// down gracefully. ln is closed on return.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
