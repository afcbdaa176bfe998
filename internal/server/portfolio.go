package server

import (
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/model"
)

var accountOrdinal = regexp.MustCompile(`_(\d+)_`)

// handlePortfolio aggregates every cached account into one dashboard
// document. Money math runs in decimal and lands as floats on the wire.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snapshot := s.store.Snapshot()
	now := float64(time.Now().UnixNano()) / 1e9

	accounts := []map[string]any{}
	var totalEquity, totalPnl, totalMargin decimal.Decimal
	totalPositions, totalOrders, totalTrades, live := 0, 0, 0, 0

	for key, entry := range snapshot {
		if !strings.HasPrefix(key, "account:") {
			continue
		}
		data, ok := entry.Data.(model.AccountData)
		if !ok {
			continue
		}

		view := accountPortfolio(data, snapshot, now)
		accounts = append(accounts, view.doc)

		totalEquity = totalEquity.Add(view.equity)
		totalPnl = totalPnl.Add(view.unrealizedPnl)
		totalMargin = totalMargin.Add(view.marginUsed)
		totalPositions += view.positionCount
		totalOrders += view.orderCount
		totalTrades += view.tradeCount
		if view.isLive {
			live++
		}
	}

	sort.Slice(accounts, func(i, j int) bool {
		return sortOrdinal(accounts[i]) < sortOrdinal(accounts[j])
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"aggregated": map[string]any{
			"total_equity":         totalEquity.InexactFloat64(),
			"total_unrealized_pnl": totalPnl.InexactFloat64(),
			"total_margin_used":    totalMargin.InexactFloat64(),
			"total_positions":      totalPositions,
			"total_active_orders":  totalOrders,
			"total_trades":         totalTrades,
			"accounts_live":        live,
			"accounts_total":       len(s.control.Accounts()),
		},
		"timestamp": int64(now),
	})
}

type portfolioEntry struct {
	doc           map[string]any
	equity        decimal.Decimal
	unrealizedPnl decimal.Decimal
	marginUsed    decimal.Decimal
	positionCount int
	orderCount    int
	tradeCount    int
	isLive        bool
}

func accountPortfolio(data model.AccountData, snapshot map[string]cache.Entry, now float64) portfolioEntry {
	id := strconv.FormatInt(data.AccountIndex, 10)

	var equity, available, marginUsed, marginRatio, unrealizedPnl decimal.Decimal
	positions := []model.Doc{}

	if accounts := model.AsDocs(data.RawData["accounts"]); len(accounts) > 0 {
		acc := accounts[0]
		equity = model.Dec(acc["collateral"])
		available = model.Dec(acc["available_balance"])
		marginUsed = equity.Sub(available)

		for _, pos := range model.AsDocs(acc["positions"]) {
			unrealizedPnl = unrealizedPnl.Add(model.Dec(pos["unrealized_pnl"]))
			if !model.Dec(pos["position"]).IsZero() {
				positions = append(positions, pos)
			}
		}
		if equity.IsPositive() {
			marginRatio = marginUsed.Div(equity)
		}
	}

	rawTrades := model.AsDocs(data.RawData["trades"])
	volume24h := tradeVolume24h(rawTrades, now)

	wsOrders := flattenDocs(lookupWsOrders(snapshot, id))
	activeOrders := wsOrders
	if len(activeOrders) == 0 {
		activeOrders = data.ActiveOrders
	}
	if activeOrders == nil {
		activeOrders = []model.Doc{}
	}

	wsTrades, volumes := lookupWsTrades(snapshot, id)
	allTrades := wsTrades
	if len(allTrades) == 0 {
		allTrades = rawTrades
	}
	if allTrades == nil {
		allTrades = []model.Doc{}
	}

	isLive := now-data.LastUpdate < 10

	volumeOut := any(volume24h.InexactFloat64())
	if daily := volumes.DailyVolume; daily != nil && model.Num(daily) != 0 {
		volumeOut = daily
	}

	return portfolioEntry{
		doc: map[string]any{
			"account_index":     id,
			"name":              data.AccountName,
			"exchange":          "lighter",
			"is_live":           isLive,
			"last_update":       int64(data.LastUpdate),
			"equity":            equity.InexactFloat64(),
			"available_balance": available.InexactFloat64(),
			"unrealized_pnl":    unrealizedPnl.InexactFloat64(),
			"margin_used":       marginUsed.InexactFloat64(),
			"margin_ratio":      marginRatio.InexactFloat64(),
			"volume_24h":        volumeOut,
			"total_volume":      volumes.TotalVolume,
			"monthly_volume":    volumes.MonthlyVolume,
			"weekly_volume":     volumes.WeeklyVolume,
			"positions":         positions,
			"active_orders":     activeOrders,
			"trades":            allTrades,
		},
		equity:        equity,
		unrealizedPnl: unrealizedPnl,
		marginUsed:    marginUsed,
		positionCount: len(positions),
		orderCount:    len(activeOrders),
		tradeCount:    len(allTrades),
		isLive:        isLive,
	}
}

// tradeVolume24h sums |size|*price over trades younger than a day.
// Timestamps larger than 1e10 are treated as milliseconds.
func tradeVolume24h(trades []model.Doc, now float64) decimal.Decimal {
	dayAgo := now - 86400
	var volume decimal.Decimal
	for _, trade := range trades {
		ts := model.Num(trade["timestamp"])
		if ts > 1e10 {
			ts /= 1000
		}
		if ts < dayAgo {
			continue
		}
		size := model.Dec(trade["size"]).Abs()
		price := model.Dec(trade["price"])
		volume = volume.Add(size.Mul(price))
	}
	return volume
}

func lookupWsOrders(snapshot map[string]cache.Entry, id string) any {
	entry, ok := snapshot["ws_orders:"+id]
	if !ok {
		return nil
	}
	data, ok := entry.Data.(model.WsOrders)
	if !ok {
		return nil
	}
	return data.Orders
}

func lookupWsTrades(snapshot map[string]cache.Entry, id string) ([]model.Doc, model.Volumes) {
	entry, ok := snapshot["ws_trades:"+id]
	if !ok {
		return nil, model.Volumes{}
	}
	data, ok := entry.Data.(model.WsTrades)
	if !ok {
		return nil, model.Volumes{}
	}

	var out []model.Doc
	for _, market := range sortedKeys(data.Trades) {
		out = append(out, data.Trades[market]...)
	}
	return out, data.Volumes
}

// flattenDocs accepts either a flat order list or a market-keyed map of
// lists and returns one list.
func flattenDocs(v any) []model.Doc {
	switch shaped := v.(type) {
	case []any:
		return docsFromList(shaped)
	case map[string]any:
		var out []model.Doc
		for _, key := range sortedKeys(shaped) {
			if list, ok := shaped[key].([]any); ok {
				out = append(out, docsFromList(list)...)
			}
		}
		return out
	}
	return nil
}

func docsFromList(list []any) []model.Doc {
	out := make([]model.Doc, 0, len(list))
	for _, item := range list {
		if doc, ok := model.AsDoc(item); ok {
			out = append(out, doc)
		}
	}
	return out
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortOrdinal(account map[string]any) int {
	name, _ := account["name"].(string)
	if m := accountOrdinal.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 999
}
