package sink

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/lighter-data/internal/model"
)

// Row types mirror the sink tables. Numeric-ish fields stay any: the
// exchange reports money as strings and pgx encodes either form into
// numeric columns, with nil becoming NULL.

type snapshotRow struct {
	AccountIndex     int64
	Ts               time.Time
	Equity           any
	Margin           any
	AvailableBalance any
	Pnl              any
	PositionsCount   int
	OrdersCount      int
	Raw              []byte
}

type positionRow struct {
	AccountIndex  int64
	Ts            time.Time
	Market        any
	Side          any
	Size          any
	EntryPrice    any
	MarkPrice     any
	UnrealizedPnl any
	Raw           []byte
}

type orderRow struct {
	AccountIndex int64
	Ts           time.Time
	OrderID      any
	Market       any
	Side         any
	OrderType    any
	Price        any
	Size         any
	Filled       any
	Status       any
	Raw          []byte
}

type tradeRow struct {
	ID           uuid.UUID
	AccountIndex int64
	Ts           time.Time
	TradeID      any
	Market       any
	Side         any
	Price        any
	Size         any
	Fee          any
	Raw          []byte
}

func snapshotToRow(accountIndex int64, data model.AccountData) snapshotRow {
	var info model.Doc
	if accounts := model.AsDocs(data.RawData["accounts"]); len(accounts) > 0 {
		info = accounts[0]
	}
	return snapshotRow{
		AccountIndex:     accountIndex,
		Ts:               time.Now().UTC(),
		Equity:           field(info, "equity", "collateral"),
		Margin:           field(info, "margin"),
		AvailableBalance: field(info, "available_balance"),
		Pnl:              field(info, "pnl"),
		PositionsCount:   len(model.AsDocs(info["positions"])),
		OrdersCount:      len(data.ActiveOrders),
		Raw:              rawJSON(data),
	}
}

func positionToRow(accountIndex int64, ts time.Time, pos model.Doc) positionRow {
	return positionRow{
		AccountIndex:  accountIndex,
		Ts:            ts,
		Market:        field(pos, "market_name", "market"),
		Side:          field(pos, "side"),
		Size:          field(pos, "size", "position"),
		EntryPrice:    field(pos, "entry_price", "avg_entry_price"),
		MarkPrice:     field(pos, "mark_price"),
		UnrealizedPnl: field(pos, "unrealized_pnl"),
		Raw:           rawJSON(pos),
	}
}

func orderToRow(accountIndex int64, ts time.Time, order model.Doc) orderRow {
	return orderRow{
		AccountIndex: accountIndex,
		Ts:           ts,
		OrderID:      field(order, "id", "order_id"),
		Market:       field(order, "market_name", "market"),
		Side:         field(order, "side"),
		OrderType:    field(order, "type", "order_type"),
		Price:        field(order, "price"),
		Size:         field(order, "size"),
		Filled:       field(order, "filled"),
		Status:       field(order, "status"),
		Raw:          rawJSON(order),
	}
}

func tradeToRow(accountIndex int64, trade model.Doc) tradeRow {
	return tradeRow{
		ID:           uuid.New(),
		AccountIndex: accountIndex,
		Ts:           time.Now().UTC(),
		TradeID:      field(trade, "id", "trade_id"),
		Market:       field(trade, "market_name", "market"),
		Side:         field(trade, "side"),
		Price:        field(trade, "price"),
		Size:         field(trade, "size"),
		Fee:          field(trade, "fee"),
		Raw:          rawJSON(trade),
	}
}

// field returns the first present, non-empty value among names, or nil.
func field(doc model.Doc, names ...string) any {
	for _, name := range names {
		v, ok := doc[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v
	}
	return nil
}

func rawJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
