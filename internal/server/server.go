package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/lighter-data/internal/api"
	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/hub"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
	"github.com/rickgao/lighter-data/internal/sink"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Control is the supervisor surface the handlers drive.
type Control interface {
	Running() bool
	Accounts() []config.Account
	Client(accountIndex int64) (*api.Client, bool)
	AnyWsConnected() bool
	ForceReconnectRest(accountIndex int64) bool
	ForceResetAllRest() int
	ForceReconnectWS(accountIndex int64) bool
	ForceReconnectAllWS() int
	RestHealth() model.RestHealth
	WsHealth() model.WsHealth
}

// History is the sink surface behind the history endpoints.
type History interface {
	Enabled() bool
	Status() sink.Status
	AccountHistory(ctx context.Context, accountIndex int64, limit int) ([]model.Doc, error)
	RecentTrades(ctx context.Context, accountIndex int64, limit int) ([]model.Doc, error)
}

// Server is the aggregator's HTTP query surface.
type Server struct {
	cfg     *config.Config
	store   *cache.Store
	tracker *metrics.Tracker
	errors  *errlog.Log
	hub     *hub.Hub
	control Control
	history History
	logger  *slog.Logger

	defaultLimiter   *ipLimiter
	reconnectLimiter *ipLimiter
	globalLimiter    *ipLimiter

	http *http.Server
}

// New wires the handlers. history may be a disabled sink.
func New(cfg *config.Config, store *cache.Store, tracker *metrics.Tracker,
	errors *errlog.Log, h *hub.Hub, control Control, history History,
	logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	n, per, err := config.ParseRateLimit(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		errors:  errors,
		hub:     h,
		control: control,
		history: history,
		logger:  logger.With("component", "server"),

		defaultLimiter:   newIPLimiter(n, per),
		reconnectLimiter: newIPLimiter(10, time.Minute),
		globalLimiter:    newIPLimiter(5, time.Minute),
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s, nil
}

// Handler builds the full route table with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	rl := s.defaultLimiter

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/latency", s.handleLatency)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)

	mux.HandleFunc("GET /api/accounts", s.limit(rl, s.handleAccounts))
	mux.HandleFunc("GET /api/accounts/{id}", s.limit(rl, s.handleAccount))

	mux.HandleFunc("GET /ws", s.handleWs)
	mux.HandleFunc("GET /api/ws/positions", s.limit(rl, s.handleWsPositions))
	mux.HandleFunc("GET /api/ws/positions/{id}", s.limit(rl, s.handleWsPositionsByAccount))
	mux.HandleFunc("GET /api/ws/orders", s.limit(rl, s.handleWsOrders))
	mux.HandleFunc("GET /api/ws/orders/{id}", s.limit(rl, s.handleWsOrdersByAccount))
	mux.HandleFunc("GET /api/ws/trades", s.limit(rl, s.handleWsTrades))
	mux.HandleFunc("GET /api/ws/trades/{id}", s.limit(rl, s.handleWsTradesByAccount))

	mux.HandleFunc("GET /api/ws/health", s.limit(rl, s.handleWsHealth))
	mux.HandleFunc("GET /api/rest/health", s.limit(rl, s.handleRestHealth))
	mux.HandleFunc("GET /api/connections/health", s.limit(rl, s.handleConnectionsHealth))

	mux.HandleFunc("POST /api/rest/reconnect", s.limit(s.reconnectLimiter, s.handleRestReconnect))
	mux.HandleFunc("POST /api/ws/reconnect", s.limit(s.reconnectLimiter, s.handleWsReconnect))
	mux.HandleFunc("POST /api/connections/reconnect", s.limit(s.globalLimiter, s.handleReconnectAll))

	mux.HandleFunc("GET /api/history/accounts/{id}", s.limit(rl, s.handleAccountHistory))
	mux.HandleFunc("GET /api/history/trades/{id}", s.limit(rl, s.handleTradeHistory))
	mux.HandleFunc("GET /api/sink/status", s.limit(rl, s.handleSinkStatus))

	mux.HandleFunc("GET /api/errors", s.limit(rl, s.handleErrors))
	mux.HandleFunc("POST /api/errors/clear", s.limit(s.globalLimiter, s.handleErrorsClear))

	return cors(mux)
}

// Start blocks serving until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// cors answers preflights and marks every response permissive, matching
// the original's wide-open middleware.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
