package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/model"
)

// MaxQueryLimit clamps history query limits.
const MaxQueryLimit = 1000

// Status is the sink's externally visible state.
type Status struct {
	Initialized        bool `json:"initialized"`
	PersistenceEnabled bool `json:"persistence_enabled"`
}

// Sink owns the database pool and the per-table writers. A disabled
// Sink accepts every call as a no-op.
type Sink struct {
	pool    *pgxpool.Pool
	enabled bool
	logger  *slog.Logger

	snapshots *writer[snapshotRow]
	positions *writer[positionRow]
	orders    *writer[orderRow]
	trades    *writer[tradeRow]
}

// Open connects to the sink database. It never fails the caller:
// missing credentials or an unreachable database produce a disabled
// sink and a log line.
func Open(ctx context.Context, cfg config.Sink, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sink")

	if !cfg.Enabled() {
		logger.Info("sink credentials not set, persistence disabled")
		return &Sink{logger: logger}
	}

	pool, err := Connect(ctx, cfg)
	if err != nil {
		logger.Warn("sink database unreachable, persistence disabled", "err", err)
		return &Sink{logger: logger}
	}

	s := &Sink{pool: pool, enabled: true, logger: logger}
	s.snapshots = newWriter("account_snapshots", pool, queueSnapshot, logger)
	s.positions = newWriter("positions", pool, queuePosition, logger)
	s.orders = newWriter("orders", pool, queueOrder, logger)
	s.trades = newWriter("trades", pool, queueTrade, logger)

	logger.Info("sink connected", "host", cfg.Host, "database", cfg.Name)
	return s
}

// Enabled reports whether writes reach the database.
func (s *Sink) Enabled() bool { return s.enabled }

// Status reports the sink state for the status endpoint.
func (s *Sink) Status() Status {
	return Status{Initialized: s.enabled, PersistenceEnabled: s.enabled}
}

// Start launches the table writers. A disabled sink starts nothing.
func (s *Sink) Start(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	s.snapshots.start(ctx)
	s.positions.start(ctx)
	s.orders.start(ctx)
	s.trades.start(ctx)
	s.logger.Info("sink writers started")
	return nil
}

// Stop flushes the writers and closes the pool.
func (s *Sink) Stop(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	s.snapshots.stop(ctx)
	s.positions.stop(ctx)
	s.orders.stop(ctx)
	s.trades.stop(ctx)
	s.pool.Close()
	s.logger.Info("sink stopped")
	return nil
}

// WriterStatsByTable reports per-table writer counters.
func (s *Sink) WriterStatsByTable() map[string]WriterStats {
	if !s.enabled {
		return nil
	}
	return map[string]WriterStats{
		"account_snapshots": s.snapshots.snapshotStats(),
		"positions":         s.positions.snapshotStats(),
		"orders":            s.orders.snapshotStats(),
		"trades":            s.trades.snapshotStats(),
	}
}

// SaveSnapshot enqueues one account snapshot.
func (s *Sink) SaveSnapshot(accountIndex int64, data model.AccountData) {
	if !s.enabled {
		return
	}
	s.snapshots.push(snapshotToRow(accountIndex, data))
}

// SavePositions enqueues the account's open positions, all stamped with
// one timestamp so a sweep reads as a unit.
func (s *Sink) SavePositions(accountIndex int64, positions []model.Doc) {
	if !s.enabled {
		return
	}
	ts := time.Now().UTC()
	for _, pos := range positions {
		s.positions.push(positionToRow(accountIndex, ts, pos))
	}
}

// SaveOrders enqueues the account's active orders.
func (s *Sink) SaveOrders(accountIndex int64, orders []model.Doc) {
	if !s.enabled {
		return
	}
	ts := time.Now().UTC()
	for _, order := range orders {
		s.orders.push(orderToRow(accountIndex, ts, order))
	}
}

// SaveTrade enqueues one trade. Redelivered trades are absorbed by the
// table's conflict target.
func (s *Sink) SaveTrade(accountIndex int64, trade model.Doc) {
	if !s.enabled {
		return
	}
	s.trades.push(tradeToRow(accountIndex, trade))
}

// AccountHistory returns the newest snapshots for one account.
func (s *Sink) AccountHistory(ctx context.Context, accountIndex int64, limit int) ([]model.Doc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_index, ts, equity, margin, available_balance, pnl,
		       positions_count, orders_count, raw
		FROM account_snapshots
		WHERE account_index = $1
		ORDER BY ts DESC
		LIMIT $2
	`, accountIndex, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

// RecentTrades returns the newest persisted trades for one account.
func (s *Sink) RecentTrades(ctx context.Context, accountIndex int64, limit int) ([]model.Doc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_index, ts, trade_id, market, side, price, size, fee, raw
		FROM trades
		WHERE account_index = $1
		ORDER BY ts DESC
		LIMIT $2
	`, accountIndex, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func queueSnapshot(batch *pgx.Batch, r snapshotRow) {
	batch.Queue(`
		INSERT INTO account_snapshots
			(account_index, ts, equity, margin, available_balance, pnl,
			 positions_count, orders_count, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.AccountIndex, r.Ts, r.Equity, r.Margin, r.AvailableBalance, r.Pnl,
		r.PositionsCount, r.OrdersCount, r.Raw)
}

func queuePosition(batch *pgx.Batch, r positionRow) {
	batch.Queue(`
		INSERT INTO positions
			(account_index, ts, market, side, size, entry_price, mark_price,
			 unrealized_pnl, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.AccountIndex, r.Ts, r.Market, r.Side, r.Size, r.EntryPrice, r.MarkPrice,
		r.UnrealizedPnl, r.Raw)
}

func queueOrder(batch *pgx.Batch, r orderRow) {
	batch.Queue(`
		INSERT INTO orders
			(account_index, ts, order_id, market, side, order_type, price,
			 size, filled, status, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.AccountIndex, r.Ts, r.OrderID, r.Market, r.Side, r.OrderType, r.Price,
		r.Size, r.Filled, r.Status, r.Raw)
}

func queueTrade(batch *pgx.Batch, r tradeRow) {
	batch.Queue(`
		INSERT INTO trades
			(id, account_index, ts, trade_id, market, side, price, size, fee, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_index, trade_id) DO NOTHING
	`, r.ID, r.AccountIndex, r.Ts, r.TradeID, r.Market, r.Side, r.Price, r.Size,
		r.Fee, r.Raw)
}

// collectDocs materializes query rows into documents keyed by column
// name, which keeps the history endpoints schema-agnostic.
func collectDocs(rows pgx.Rows) ([]model.Doc, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []model.Doc{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		doc := make(model.Doc, len(fields))
		for i, f := range fields {
			doc[f.Name] = values[i]
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
