package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the aggregator. The JSON tracker above
// serves the dashboard; these serve ops scrapes.
var (
	RestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_rest_requests_total",
			Help: "Total upstream REST requests by account and result",
		},
		[]string{"account", "result"},
	)

	RestPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lighter_rest_poll_duration_seconds",
			Help:    "Duration of one full REST poll cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	WsMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_ws_messages_total",
			Help: "Total websocket frames received by account",
		},
		[]string{"account"},
	)

	WsConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lighter_ws_connection_status",
			Help: "Websocket connection status by account (1=connected)",
		},
		[]string{"account"},
	)

	WsReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_ws_reconnects_total",
			Help: "Total websocket reconnect attempts by account",
		},
		[]string{"account"},
	)

	ConnectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_connection_errors_total",
			Help: "Total upstream errors by source and kind",
		},
		[]string{"source", "kind"},
	)

	BroadcastClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighter_broadcast_clients",
			Help: "Currently attached broadcast subscribers",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighter_cache_entries",
			Help: "Entries currently held in the TTL cache",
		},
	)

	SinkRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_sink_rows_written_total",
			Help: "Rows written to the durable sink by table",
		},
		[]string{"table"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighter_sink_errors_total",
			Help: "Sink write failures by table",
		},
		[]string{"table"},
	)
)

// RecordWsConnection sets the per-account connection gauge.
func RecordWsConnection(account string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	WsConnectionStatus.WithLabelValues(account).Set(v)
}

// RecordError bumps the error counter for a source/kind pair.
func RecordError(source, kind string) {
	ConnectionErrors.WithLabelValues(source, kind).Inc()
}

// Server exposes /metrics and /health on a dedicated listener, apart
// from the data API.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer builds the metrics listener for addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Start blocks serving until the listener closes.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop closes the listener.
func (s *Server) Stop() error {
	return s.server.Close()
}
