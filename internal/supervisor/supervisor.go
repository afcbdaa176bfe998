package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/lighter-data/internal/api"
	"github.com/rickgao/lighter-data/internal/auth"
	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/connection"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/merge"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
	"github.com/rickgao/lighter-data/internal/poller"
	"github.com/rickgao/lighter-data/internal/sink"
)

// accountUnit is the machinery for one configured account.
type accountUnit struct {
	account config.Account
	client  *api.Client
	poller  *poller.Poller
	conn    *connection.Conn
}

// Supervisor owns every account unit and the shared merge layer.
type Supervisor struct {
	cfg    *config.Config
	store  *cache.Store
	snk    *sink.Sink
	logger *slog.Logger

	units []*accountUnit
	byID  map[int64]*accountUnit

	running   atomic.Bool
	startTime time.Time
}

// New builds the account units. hub receives every frame via the merge
// layer; snk may be a disabled sink.
func New(cfg *config.Config, store *cache.Store, tracker *metrics.Tracker,
	errors *errlog.Log, broadcaster merge.Broadcaster, snk *sink.Sink,
	logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var tradeSink merge.TradeSink
	var snapshotSink poller.SnapshotSink
	if snk != nil && snk.Enabled() {
		tradeSink = snk
		snapshotSink = snk
	}
	layer := merge.New(store, broadcaster, tradeSink, logger)

	s := &Supervisor{
		cfg:    cfg,
		store:  store,
		snk:    snk,
		logger: logger.With("component", "supervisor"),
		byID:   make(map[int64]*accountUnit, len(cfg.Accounts)),
	}

	for _, account := range cfg.Accounts {
		creds, err := auth.ParseCredentials(account.AccountIndex, account.APIKeyIndex,
			account.PrivateKey, account.PublicKey)
		if err != nil {
			return nil, err
		}
		minter := auth.NewMinter(creds)

		client, err := api.NewClient(cfg.BaseURL, minter, account.ProxyURL, api.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", account.Name, err)
		}

		pollerCfg := poller.DefaultConfig()
		pollerCfg.Interval = cfg.PollInterval

		unit := &accountUnit{
			account: account,
			client:  client,
			poller: poller.New(pollerCfg, account, client, store, tracker, errors,
				snapshotSink, logger),
			conn: connection.New(connection.DefaultConfig(cfg.WsURL), account, minter,
				layer.Handle, errors, tracker, logger),
		}
		s.units = append(s.units, unit)
		s.byID[account.AccountIndex] = unit
	}

	return s, nil
}

// Start brings up the sink writers, then every poller and connector.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if s.snk != nil {
		if err := s.snk.Start(ctx); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
	}

	var g errgroup.Group
	for _, unit := range s.units {
		g.Go(func() error { return unit.poller.Start(ctx) })
		g.Go(func() error { return unit.conn.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.running.Store(true)
	s.logger.Info("supervisor started", "accounts", len(s.units))
	return nil
}

// Stop tears down connectors first so no more frames arrive, then the
// sink so buffered rows flush.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.running.Store(false)

	var g errgroup.Group
	for _, unit := range s.units {
		g.Go(func() error { return unit.conn.Stop(ctx) })
		g.Go(func() error { return unit.poller.Stop(ctx) })
	}
	err := g.Wait()

	if s.snk != nil {
		if sinkErr := s.snk.Stop(ctx); err == nil {
			err = sinkErr
		}
	}

	s.logger.Info("supervisor stopped")
	return err
}

// Running reports whether the polling loops are live.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Accounts returns the configured accounts in load order.
func (s *Supervisor) Accounts() []config.Account {
	out := make([]config.Account, len(s.units))
	for i, unit := range s.units {
		out[i] = unit.account
	}
	return out
}

// Client returns the REST client for an account, for one-shot fetches
// outside the polling loop.
func (s *Supervisor) Client(accountIndex int64) (*api.Client, bool) {
	unit, ok := s.byID[accountIndex]
	if !ok {
		return nil, false
	}
	return unit.client, true
}

// AnyWsConnected reports whether at least one stream is up.
func (s *Supervisor) AnyWsConnected() bool {
	for _, unit := range s.units {
		if unit.conn.Connected() {
			return true
		}
	}
	return false
}

// ForceReconnectRest reopens one account's REST backoff gate.
func (s *Supervisor) ForceReconnectRest(accountIndex int64) bool {
	unit, ok := s.byID[accountIndex]
	if !ok {
		return false
	}
	unit.poller.ForceReset()
	return true
}

// ForceResetAllRest reopens every REST gate and reports how many.
func (s *Supervisor) ForceResetAllRest() int {
	for _, unit := range s.units {
		unit.poller.ForceReset()
	}
	return len(s.units)
}

// ForceReconnectWS recycles one account's stream.
func (s *Supervisor) ForceReconnectWS(accountIndex int64) bool {
	unit, ok := s.byID[accountIndex]
	if !ok {
		return false
	}
	unit.conn.ForceReconnect()
	return true
}

// ForceReconnectAllWS recycles every stream and reports how many.
func (s *Supervisor) ForceReconnectAllWS() int {
	for _, unit := range s.units {
		unit.conn.ForceReconnect()
	}
	return len(s.units)
}

// RestHealth rolls up every account's REST connection state.
func (s *Supervisor) RestHealth() model.RestHealth {
	health := model.RestHealth{
		Type:         "rest_api",
		Polling:      s.running.Load(),
		PollInterval: s.cfg.PollInterval.Seconds(),
		Connections:  make([]model.RestConnHealth, 0, len(s.units)),
	}

	for _, unit := range s.units {
		conn := unit.poller.Health()
		health.Connections = append(health.Connections, conn)
		health.TotalConnections++
		if conn.Connected {
			health.ConnectedCount++
		} else {
			health.DisconnectedCount++
		}
		health.TotalRequests += conn.TotalRequests
		health.TotalFailures += conn.FailedRequests
	}

	if health.TotalRequests > 0 {
		rate := float64(health.TotalRequests-health.TotalFailures) / float64(health.TotalRequests) * 100
		health.SuccessRate = math.Round(rate*100) / 100
	} else {
		health.SuccessRate = 100
	}
	health.UptimeSeconds = s.uptimeSeconds()
	return health
}

// WsHealth rolls up every account's stream state.
func (s *Supervisor) WsHealth() model.WsHealth {
	health := model.WsHealth{
		Type:        "websocket",
		Connections: make([]model.WsConnHealth, 0, len(s.units)),
	}

	for _, unit := range s.units {
		conn := unit.conn.Health()
		health.Connections = append(health.Connections, conn)
		health.TotalConnections++
		if conn.Connected {
			health.ConnectedCount++
		} else {
			health.DisconnectedCount++
		}
		health.TotalMessagesReceived += conn.TotalMessages
		health.TotalReconnectAttempts += conn.ReconnectCount
	}

	health.UptimeSeconds = s.uptimeSeconds()
	return health
}

func (s *Supervisor) uptimeSeconds() float64 {
	if s.startTime.IsZero() {
		return 0
	}
	return math.Round(time.Since(s.startTime).Seconds()*10) / 10
}
