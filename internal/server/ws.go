package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/lighter-data/internal/hub"
	"github.com/rickgao/lighter-data/internal/model"
)

var upgrader = websocket.Upgrader{
	// The API is already CORS-open; the socket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWs upgrades the client, attaches it to the hub, and sends the
// one-shot cache snapshot. The read loop only exists to notice the
// close; client text is discarded.
func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	session := hub.NewSession(conn)
	s.hub.Attach(session)
	defer s.hub.Detach(session)

	if err := s.hub.SendTo(session, map[string]any{
		"type": "initial_data",
		"data": s.store.Snapshot(),
	}); err != nil {
		s.logger.Warn("initial data send failed", "err", err)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleWsPositions(w http.ResponseWriter, r *http.Request) {
	result := []map[string]any{}
	for key, entry := range s.store.Snapshot() {
		id, ok := strings.CutPrefix(key, "ws_positions:")
		if !ok {
			continue
		}
		if data, ok := entry.Data.(model.WsPositions); ok {
			result = append(result, positionsView(id, data))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": result, "total_accounts": len(result)})
}

func (s *Server) handleWsPositionsByAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cached, found := s.store.Get("ws_positions:" + strconv.FormatInt(id, 10))
	data, shaped := cached.(model.WsPositions)
	if !found || !shaped {
		writeDetail(w, http.StatusNotFound, "No positions data for account "+strconv.FormatInt(id, 10))
		return
	}
	view := positionsView("", data)
	view["account_index"] = id
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWsOrders(w http.ResponseWriter, r *http.Request) {
	result := []map[string]any{}
	for key, entry := range s.store.Snapshot() {
		id, ok := strings.CutPrefix(key, "ws_orders:")
		if !ok {
			continue
		}
		if data, ok := entry.Data.(model.WsOrders); ok {
			result = append(result, ordersView(id, data))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": result, "total_accounts": len(result)})
}

func (s *Server) handleWsOrdersByAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cached, found := s.store.Get("ws_orders:" + strconv.FormatInt(id, 10))
	data, shaped := cached.(model.WsOrders)
	if !found || !shaped {
		writeDetail(w, http.StatusNotFound, "No orders data for account "+strconv.FormatInt(id, 10))
		return
	}
	view := ordersView("", data)
	view["account_index"] = id
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWsTrades(w http.ResponseWriter, r *http.Request) {
	result := []map[string]any{}
	for key, entry := range s.store.Snapshot() {
		id, ok := strings.CutPrefix(key, "ws_trades:")
		if !ok {
			continue
		}
		if data, ok := entry.Data.(model.WsTrades); ok {
			result = append(result, tradesView(id, data))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": result, "total_accounts": len(result)})
}

func (s *Server) handleWsTradesByAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cached, found := s.store.Get("ws_trades:" + strconv.FormatInt(id, 10))
	data, shaped := cached.(model.WsTrades)
	if !found || !shaped {
		writeDetail(w, http.StatusNotFound, "No trades data for account "+strconv.FormatInt(id, 10))
		return
	}
	view := tradesView("", data)
	view["account_index"] = id
	writeJSON(w, http.StatusOK, view)
}

func positionsView(id string, data model.WsPositions) map[string]any {
	return map[string]any{
		"account_index": id,
		"positions":     data.Positions,
		"timestamp":     data.Timestamp,
		"age_seconds":   ageSeconds(data.Timestamp),
	}
}

func ordersView(id string, data model.WsOrders) map[string]any {
	return map[string]any{
		"account_index": id,
		"orders":        data.Orders,
		"orders_count":  countOrders(data.Orders),
		"timestamp":     data.Timestamp,
		"age_seconds":   ageSeconds(data.Timestamp),
	}
}

func tradesView(id string, data model.WsTrades) map[string]any {
	total := 0
	for _, trades := range data.Trades {
		total += len(trades)
	}
	return map[string]any{
		"account_index": id,
		"trades":        data.Trades,
		"trades_count":  total,
		"volumes":       data.Volumes,
		"timestamp":     data.Timestamp,
		"age_seconds":   ageSeconds(data.Timestamp),
	}
}

// countOrders handles both shapes an orders frame carries: a flat list
// or a market-keyed map of lists.
func countOrders(orders any) int {
	switch v := orders.(type) {
	case []any:
		return len(v)
	case map[string]any:
		total := 0
		for _, market := range v {
			if list, ok := market.([]any); ok {
				total += len(list)
			}
		}
		return total
	}
	return 0
}

// ageSeconds is nil when the entry never carried a timestamp.
func ageSeconds(ts float64) any {
	if ts == 0 {
		return nil
	}
	age := float64(time.Now().UnixNano())/1e9 - ts
	return math.Round(age*100) / 100
}
