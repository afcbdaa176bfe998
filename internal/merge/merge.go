package merge

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/model"
)

const (
	// OrdersTTL bounds how long a stale orders or positions frame keeps
	// serving reads.
	OrdersTTL = 120 * time.Second

	// TradesTTL bounds the merged trade history.
	TradesTTL = 3600 * time.Second

	// MaxTradesPerMarket caps one market's retained trade list.
	MaxTradesPerMarket = 500
)

// Broadcaster fans a frame out to the attached clients. Implementations
// must not block the caller on slow subscribers.
type Broadcaster interface {
	Broadcast(frame any)
}

// TradeSink receives each genuinely-new trade for durable storage.
// Implementations must not block; failures stay inside the sink.
type TradeSink interface {
	SaveTrade(accountIndex int64, trade model.Doc)
}

// Layer routes frames from the account connectors into the cache.
type Layer struct {
	store  *cache.Store
	hub    Broadcaster
	sink   TradeSink // nil when persistence is disabled
	logger *slog.Logger
}

// New creates a Layer. hub and sink may be nil.
func New(store *cache.Store, hub Broadcaster, sink TradeSink, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		store:  store,
		hub:    hub,
		sink:   sink,
		logger: logger.With("component", "merge"),
	}
}

// Handle processes one frame. Frames for one account arrive serially
// from that account's connector, so per-key writes never race.
func (l *Layer) Handle(frame model.Doc) {
	if l.hub != nil {
		l.hub.Broadcast(model.Doc{"type": "lighter_update", "data": frame})
	}

	channel := model.Str(frame["channel"])

	switch {
	case strings.Contains(channel, "account_all_orders"):
		id, err := accountSuffix(channel, "account_all_orders")
		if err != nil {
			l.logger.Error("unparseable orders channel", "channel", channel, "err", err)
			return
		}
		orders := frame["orders"]
		l.store.SetTTL("ws_orders:"+strconv.FormatInt(id, 10), model.WsOrders{
			Orders:    orders,
			Timestamp: unixNow(),
		}, OrdersTTL)
		l.logger.Debug("cached orders frame", "account", id)

	case strings.Contains(channel, "account_all_positions"):
		id, err := accountSuffix(channel, "account_all_positions")
		if err != nil {
			l.logger.Error("unparseable positions channel", "channel", channel, "err", err)
			return
		}
		positions, _ := model.AsList(frame["positions"])
		l.store.SetTTL("ws_positions:"+strconv.FormatInt(id, 10), model.WsPositions{
			Positions: positions,
			Timestamp: unixNow(),
		}, OrdersTTL)

	case strings.Contains(channel, "account_all_trades"):
		id, err := accountSuffix(channel, "account_all_trades")
		if err != nil {
			l.logger.Error("unparseable trades channel", "channel", channel, "err", err)
			return
		}
		l.mergeTrades(id, frame)

	default:
		if _, ok := frame["account_index"]; ok {
			id := model.Int(frame["account_index"])
			l.store.Set("ws_update:"+strconv.FormatInt(id, 10), frame)
		}
	}
}

// mergeTrades folds a trades frame into the account's retained history.
// Per market: existing entries keep their order, incoming trades whose
// identity is already present are dropped, and the list is trimmed to
// its newest MaxTradesPerMarket entries. Volumes always come from the
// incoming frame.
func (l *Layer) mergeTrades(accountIndex int64, frame model.Doc) {
	merged := l.existingTrades(accountIndex)

	incoming, ok := model.AsDoc(frame["trades"])
	if !ok {
		incoming = model.Doc{}
	}

	for marketID, raw := range incoming {
		marketTrades, ok := model.AsList(raw)
		if !ok {
			continue
		}

		existing, seen := merged[marketID]
		if !seen {
			trades := tail(docsOf(marketTrades), MaxTradesPerMarket)
			merged[marketID] = trades
			for _, trade := range docsOf(marketTrades) {
				l.saveTrade(accountIndex, trade)
			}
			continue
		}

		known := make(map[string]struct{}, len(existing))
		for _, t := range existing {
			if key := tradeKey(t); key != "" {
				known[key] = struct{}{}
			}
		}

		for _, trade := range docsOf(marketTrades) {
			key := tradeKey(trade)
			if key == "" {
				continue
			}
			if _, dup := known[key]; dup {
				continue
			}
			existing = append(existing, trade)
			known[key] = struct{}{}
			l.saveTrade(accountIndex, trade)
		}

		merged[marketID] = tail(existing, MaxTradesPerMarket)
	}

	l.store.SetTTL("ws_trades:"+strconv.FormatInt(accountIndex, 10), model.WsTrades{
		Trades: merged,
		Volumes: model.Volumes{
			TotalVolume:   frame["total_volume"],
			MonthlyVolume: frame["monthly_volume"],
			WeeklyVolume:  frame["weekly_volume"],
			DailyVolume:   frame["daily_volume"],
		},
		Timestamp: unixNow(),
	}, TradesTTL)
}

// existingTrades loads the retained per-market trade map, tolerating a
// missing entry or one with an unexpected shape.
func (l *Layer) existingTrades(accountIndex int64) map[string][]model.Doc {
	cached, ok := l.store.Get("ws_trades:" + strconv.FormatInt(accountIndex, 10))
	if !ok {
		return map[string][]model.Doc{}
	}
	prev, ok := cached.(model.WsTrades)
	if !ok || prev.Trades == nil {
		return map[string][]model.Doc{}
	}

	out := make(map[string][]model.Doc, len(prev.Trades))
	for market, trades := range prev.Trades {
		out[market] = append([]model.Doc(nil), trades...)
	}
	return out
}

func (l *Layer) saveTrade(accountIndex int64, trade model.Doc) {
	if l.sink == nil {
		return
	}
	l.sink.SaveTrade(accountIndex, trade)
}

// tradeKey is a trade's identity: the first present of id, trade_id,
// timestamp. Empty when none is set.
func tradeKey(trade model.Doc) string {
	for _, field := range []string{"id", "trade_id", "timestamp"} {
		if v, ok := trade[field]; ok {
			if s := model.Str(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// accountSuffix parses the account id from a channel like
// "account_all_trades/7" or "account_all_trades:7".
func accountSuffix(channel, prefix string) (int64, error) {
	s := strings.Replace(channel, prefix+":", "", 1)
	s = strings.Replace(s, prefix+"/", "", 1)
	return strconv.ParseInt(s, 10, 64)
}

func docsOf(list []any) []model.Doc {
	docs := make([]model.Doc, 0, len(list))
	for _, item := range list {
		if d, ok := model.AsDoc(item); ok {
			docs = append(docs, d)
		}
	}
	return docs
}

func tail(docs []model.Doc, n int) []model.Doc {
	if len(docs) <= n {
		return docs
	}
	return docs[len(docs)-n:]
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
