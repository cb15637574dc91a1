package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "livecam"

// Statuses reported by the status gauge.
var Statuses = []string{"idle", "connecting", "publishing", "viewing"}

// Metrics records live session activity.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	status          *prometheus.GaugeVec
	tracksBound     prometheus.Gauge
}

// New registers the session metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Live session connect attempts by role.",
		}, []string{"role"}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed live session connects by error kind.",
		}, []string{"kind"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
		tracksBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracks_bound",
			Help:      "Tracks currently bound to a surface.",
		}),
	}
	reg.MustRegister(m.connectAttempts, m.connectFailures, m.status, m.tracksBound)
	m.SetStatus("idle")
	return m
}

// ConnectAttempt counts a connect for role.
func (m *Metrics) ConnectAttempt(role string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(role).Inc()
}

// ConnectFailure counts a failed connect of the given kind.
func (m *Metrics) ConnectFailure(kind string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(kind).Inc()
}

// SetStatus marks status as current.
func (m *Metrics) SetStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.status.WithLabelValues(s).Set(v)
	}
}

// SetTracksBound records the number of bound tracks.
func (m *Metrics) SetTracksBound(n int) {
	if m == nil {
		return
	}
	m.tracksBound.Set(float64(n))
}

// Server exposes metrics over HTTP.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer serves the metrics gathered by g at addr under /metrics.
func NewServer(addr string, g prometheus.Gatherer, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log.With().Str("module", "metrics").Logger(),
	}
}

// Run serves until Shutdown.
func (s *Server) Run() {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting metrics server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("metrics server")
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down metrics server")
	return s.srv.Shutdown(ctx)
}
