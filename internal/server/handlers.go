package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"accounts_configured": len(s.control.Accounts()),
		"ws_connected":        s.control.AnyWsConnected(),
		"broadcast_clients":   s.hub.Count(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"polling":             s.control.Running(),
		"poll_interval":       s.cfg.PollInterval.Seconds(),
		"ws_connected":        s.control.AnyWsConnected(),
		"broadcast_clients":   s.hub.Count(),
		"accounts_configured": len(s.control.Accounts()),
		"cache":               s.store.Stats(),
	})
}

// handleLatency refreshes the tracker's gauges from current state, then
// reports the rollup. Its own duration feeds the stats-fetch window.
func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	now := float64(time.Now().UnixNano()) / 1e9
	live := 0
	for key, entry := range s.store.Snapshot() {
		if !strings.HasPrefix(key, "account:") {
			continue
		}
		if data, ok := entry.Data.(model.AccountData); ok && now-data.LastUpdate < 10 {
			live++
		}
	}

	s.tracker.SetAccountStats(live, len(s.control.Accounts()), s.hub.Count())
	s.tracker.SetWsStatus(s.control.AnyWsConnected())
	metrics.CacheEntries.Set(float64(s.store.Stats().TotalEntries))

	rollup := s.tracker.Metrics()
	s.tracker.RecordStatsFetch(float64(time.Since(start).Milliseconds()))
	writeJSON(w, http.StatusOK, rollup)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := map[string]any{}
	for key, entry := range s.store.Snapshot() {
		if id, ok := strings.CutPrefix(key, "account:"); ok {
			accounts[id] = entry
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// handleAccount serves from cache when possible and falls back to a
// one-shot upstream fetch for a configured but not-yet-polled account.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if cached, ok := s.store.Get("account:" + strconv.FormatInt(id, 10)); ok {
		writeJSON(w, http.StatusOK, map[string]any{"account": cached, "source": "cache"})
		return
	}

	for _, account := range s.control.Accounts() {
		if account.AccountIndex != id {
			continue
		}
		client, ok := s.control.Client(id)
		if !ok {
			break
		}
		doc, err := client.Account(r.Context(), id)
		if err != nil {
			s.logger.Warn("direct account fetch failed", "account", account.Name, "err", err)
			break
		}
		data := model.AccountData{
			AccountIndex: id,
			AccountName:  account.Name,
			RawData:      doc,
			LastUpdate:   float64(time.Now().UnixNano()) / 1e9,
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": data, "source": "fresh"})
		return
	}

	writeDetail(w, http.StatusNotFound, "Account not found")
}

func (s *Server) handleWsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.WsHealth())
}

func (s *Server) handleRestHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.RestHealth())
}

func (s *Server) handleConnectionsHealth(w http.ResponseWriter, r *http.Request) {
	ws := s.control.WsHealth()
	rest := s.control.RestHealth()
	writeJSON(w, http.StatusOK, map[string]any{
		"websocket": ws,
		"rest_api":  rest,
		"summary": map[string]any{
			"ws_connected":   ws.ConnectedCount,
			"ws_total":       ws.TotalConnections,
			"rest_connected": rest.ConnectedCount,
			"rest_total":     rest.TotalConnections,
			"all_healthy": ws.ConnectedCount == ws.TotalConnections &&
				rest.ConnectedCount == rest.TotalConnections,
		},
	})
}

func (s *Server) handleRestReconnect(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("account_index"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid account_index")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       s.control.ForceReconnectRest(id),
			"account_index": id,
		})
		return
	}
	count := s.control.ForceResetAllRest()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reset_count": count})
}

func (s *Server) handleWsReconnect(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("account_index"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid account_index")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       s.control.ForceReconnectWS(id),
			"account_index": id,
		})
		return
	}
	count := s.control.ForceReconnectAllWS()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reconnected_count": count})
}

func (s *Server) handleReconnectAll(w http.ResponseWriter, r *http.Request) {
	wsCount := s.control.ForceReconnectAllWS()
	restCount := s.control.ForceResetAllRest()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"websocket_reconnected": wsCount,
		"rest_reset":            restCount,
	})
}

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if s.history == nil || !s.history.Enabled() {
		writeDetail(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	snapshots, err := s.history.AccountHistory(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		s.logger.Error("account history query failed", "account", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_index": id,
		"snapshots":     snapshots,
		"count":         len(snapshots),
	})
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if s.history == nil || !s.history.Enabled() {
		writeDetail(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	trades, err := s.history.RecentTrades(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		s.logger.Error("trade history query failed", "account", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_index": id,
		"trades":        trades,
		"count":         len(trades),
	})
}

func (s *Server) handleSinkStatus(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"initialized":         false,
			"persistence_enabled": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.history.Status())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"errors":  s.errors.Recent(queryLimit(r, 50), r.URL.Query().Get("source")),
		"summary": s.errors.Summary(),
	})
}

func (s *Server) handleErrorsClear(w http.ResponseWriter, r *http.Request) {
	s.errors.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Error log cleared"})
}

// pathID parses the {id} path segment; a non-integer gets a 400 and a
// false return.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid account index")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
