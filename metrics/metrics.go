// Package metrics exposes Prometheus instruments for the nodelink protocol
// and a small HTTP server that serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChannelsOpened counts successful phase-1 handshakes by cipher suite.
	ChannelsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodelink_channels_opened_total",
			Help: "Count of encrypted channels established, by negotiated cipher.",
		},
		[]string{"cipher"},
	)

	// HandshakeFailures counts rejected channel-open attempts by error code.
	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodelink_handshake_failures_total",
			Help: "Count of rejected channel-open attempts, by error code.",
		},
		[]string{"code"},
	)

	// AuthenticationAttempts counts phase-3 outcomes.
	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodelink_authentication_attempts_total",
			Help: "Count of challenge-response attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// ActiveSessions tracks live phase-4 sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodelink_active_sessions",
			Help: "Number of unexpired sessions.",
		},
	)

	// RateLimitRejections counts requests refused by the per-session window.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodelink_rate_limit_rejections_total",
			Help: "Count of session requests rejected by the sliding window.",
		},
	)

	// HTTPStatus counts responses by status code.
	HTTPStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodelink_http_status_total",
			Help: "Count of HTTP responses, by status code.",
		},
		[]string{"status"},
	)
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and address. An
// empty address returns a server whose ListenAndServe is a no-op.
func New(name, addr string) (*MetricsServer, error) {
	if addr == "" {
		return &MetricsServer{}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the scrape endpoint.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
