package poller

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/lighter-data/internal/api"
	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
	"github.com/rickgao/lighter-data/internal/retry"
)

// SnapshotInterval is the minimum spacing between sink snapshots for
// one account.
const SnapshotInterval = 60 * time.Second

// SnapshotSink receives periodic account state for durable storage.
// Implementations must not block; failures stay inside the sink.
type SnapshotSink interface {
	SaveSnapshot(accountIndex int64, data model.AccountData)
	SavePositions(accountIndex int64, positions []model.Doc)
	SaveOrders(accountIndex int64, orders []model.Doc)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // poll interval (default 500ms)
	Timeout  time.Duration // per-request timeout (default 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: config.DefaultPollInterval,
		Timeout:  api.DefaultTimeout,
	}
}

// Poller polls one account's REST state and keeps the cache fresh.
type Poller struct {
	cfg     Config
	account config.Account
	client  *api.Client
	store   *cache.Store
	tracker *metrics.Tracker
	errors  *errlog.Log
	state   *retry.State
	sink    SnapshotSink // nil when persistence is disabled
	logger  *slog.Logger

	mu           sync.Mutex
	activeOrders []model.Doc
	lastSnapshot time.Time

	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller for one account. sink may be nil.
func New(cfg Config, account config.Account, client *api.Client, store *cache.Store,
	tracker *metrics.Tracker, errors *errlog.Log, sink SnapshotSink, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = api.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		account: account,
		client:  client,
		store:   store,
		tracker: tracker,
		errors:  errors,
		state:   retry.New(),
		sink:    sink,
		logger:  logger.With("component", "poller", "account", account.Name),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.startTime = time.Now()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("account poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("account poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs a single poll cycle: account snapshot, cache write,
// sink hand-off, then the order fan-out for the next cycle. While the
// backoff gate is closed nothing is sent and the cache keeps serving
// the previous snapshot.
func (p *Poller) PollOnce(ctx context.Context) {
	if p.state.ShouldSkip() {
		p.logger.Debug("skipping account request, in retry backoff")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	doc, err := p.client.Account(reqCtx, p.account.AccountIndex)
	elapsed := time.Since(start)

	p.tracker.RecordRestPoll(float64(elapsed.Milliseconds()))
	metrics.RestPollDuration.Observe(elapsed.Seconds())

	if err != nil {
		p.recordFailure(err, "account fetch")
		return
	}
	p.state.RecordSuccess()
	metrics.RestRequests.WithLabelValues(p.account.Name, "success").Inc()

	now := unixNow()
	data := model.AccountData{
		AccountIndex: p.account.AccountIndex,
		AccountName:  p.account.Name,
		RawData:      doc,
		ActiveOrders: p.ordersCopy(),
		LastUpdate:   now,
	}

	p.store.Set("account:"+strconv.FormatInt(p.account.AccountIndex, 10), data)

	p.tracker.MarkBalanceUpdate()
	p.tracker.MarkPositionsUpdate()

	p.maybeSnapshot(data)

	p.FetchAllActiveOrders(ctx, positionMarkets(doc))
}

// FetchActiveOrders fetches the resting orders for one market. On
// backoff-skip it returns the last in-memory list.
func (p *Poller) FetchActiveOrders(ctx context.Context, marketID int64) []model.Doc {
	if p.state.ShouldSkip() {
		p.logger.Debug("skipping orders request, in retry backoff", "market", marketID)
		return p.ordersCopy()
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	orders, err := p.client.AccountActiveOrders(reqCtx, p.account.AccountIndex, marketID)
	if err != nil {
		p.recordFailure(err, "orders fetch")
		return nil
	}

	p.state.RecordSuccess()
	metrics.RestRequests.WithLabelValues(p.account.Name, "success").Inc()
	return orders
}

// FetchAllActiveOrders issues per-market fetches in parallel and stores
// the concatenation as the account's current active orders. An empty
// market list clears the orders without any I/O.
func (p *Poller) FetchAllActiveOrders(ctx context.Context, markets []int64) []model.Doc {
	if len(markets) == 0 {
		p.setOrders(nil)
		return nil
	}

	results := make([][]model.Doc, len(markets))
	var g errgroup.Group
	for i, marketID := range markets {
		g.Go(func() error {
			results[i] = p.FetchActiveOrders(ctx, marketID)
			return nil
		})
	}
	g.Wait()

	var all []model.Doc
	for _, orders := range results {
		all = append(all, orders...)
	}

	p.setOrders(all)
	return all
}

// ForceReset reopens the backoff gate so the next tick attempts a
// request immediately.
func (p *Poller) ForceReset() {
	p.state.ForceReset()
	p.logger.Info("force reset rest connection")
}

// Connected reports the retry gate position.
func (p *Poller) Connected() bool {
	return p.state.Connected()
}

// Health reports this connection's health rollup.
func (p *Poller) Health() model.RestConnHealth {
	stats := p.state.Stats()

	uptime := 0.0
	if !p.startTime.IsZero() {
		uptime = math.Round(time.Since(p.startTime).Seconds()*10) / 10
	}

	return model.RestConnHealth{
		AccountID:           p.account.AccountIndex,
		AccountName:         p.account.Name,
		Connected:           stats.Connected,
		LastSuccessAge:      stats.LastSuccessAge,
		LastFailureAge:      stats.LastFailureAge,
		TotalRequests:       stats.TotalRequests,
		SuccessfulRequests:  stats.SuccessfulRequests,
		FailedRequests:      stats.FailedRequests,
		SuccessRate:         stats.SuccessRate,
		RetryPhase:          stats.RetryPhase,
		PhaseAttempts:       stats.PhaseAttempts,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		UptimeSeconds:       uptime,
		LastError:           stats.LastError,
		RequestsPerMinute:   stats.RequestsPerMinute,
	}
}

func (p *Poller) recordFailure(err error, op string) {
	kind, code := api.Kind(err)
	p.state.RecordFailure(err.Error())
	p.errors.Add(p.account.AccountIndex, p.account.Name, kind, err.Error(), "rest", code)
	metrics.RestRequests.WithLabelValues(p.account.Name, "failure").Inc()
	metrics.RecordError("rest", kind)
	p.logger.Warn(op+" failed", "kind", kind, "err", err)
}

func (p *Poller) ordersCopy() []model.Doc {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Doc, len(p.activeOrders))
	copy(out, p.activeOrders)
	return out
}

func (p *Poller) setOrders(orders []model.Doc) {
	p.mu.Lock()
	p.activeOrders = orders
	p.mu.Unlock()
}

// maybeSnapshot hands the snapshot to the sink when persistence is on
// and the last hand-off for this account is old enough.
func (p *Poller) maybeSnapshot(data model.AccountData) {
	if p.sink == nil {
		return
	}

	p.mu.Lock()
	due := time.Since(p.lastSnapshot) >= SnapshotInterval
	if due {
		p.lastSnapshot = time.Now()
	}
	p.mu.Unlock()
	if !due {
		return
	}

	p.sink.SaveSnapshot(p.account.AccountIndex, data)

	if positions := accountPositions(data.RawData); len(positions) > 0 {
		p.sink.SavePositions(p.account.AccountIndex, positions)
	}
	if len(data.ActiveOrders) > 0 {
		p.sink.SaveOrders(p.account.AccountIndex, data.ActiveOrders)
	}
}

// positionMarkets extracts the market ids of non-zero positions from an
// account document.
func positionMarkets(doc model.Doc) []int64 {
	var markets []int64
	for _, pos := range accountPositions(doc) {
		size := model.Num(pos["position"])
		if size == 0 {
			size = model.Num(pos["signed_size"])
		}
		if size != 0 {
			markets = append(markets, model.Int(pos["market_id"]))
		}
	}
	return markets
}

// accountPositions returns accounts[0].positions from an account
// document, tolerating any missing level.
func accountPositions(doc model.Doc) []model.Doc {
	accounts := model.AsDocs(doc["accounts"])
	if len(accounts) == 0 {
		return nil
	}
	return model.AsDocs(accounts[0]["positions"])
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
