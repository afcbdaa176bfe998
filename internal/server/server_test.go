package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/lighter-data/internal/api"
	"github.com/rickgao/lighter-data/internal/auth"
	"github.com/rickgao/lighter-data/internal/cache"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/hub"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
	"github.com/rickgao/lighter-data/internal/sink"
)

type fakeControl struct {
	accounts     []config.Account
	client       *api.Client
	wsConnected  bool
	running      bool
	restResets   int
	wsReconnects int
}

func (f *fakeControl) Running() bool              { return f.running }
func (f *fakeControl) Accounts() []config.Account { return f.accounts }
func (f *fakeControl) AnyWsConnected() bool       { return f.wsConnected }

func (f *fakeControl) Client(accountIndex int64) (*api.Client, bool) {
	if f.client == nil {
		return nil, false
	}
	return f.client, true
}

func (f *fakeControl) ForceReconnectRest(accountIndex int64) bool {
	f.restResets++
	return accountIndex == 7
}
func (f *fakeControl) ForceResetAllRest() int { f.restResets = len(f.accounts); return f.restResets }
func (f *fakeControl) ForceReconnectWS(accountIndex int64) bool {
	f.wsReconnects++
	return accountIndex == 7
}
func (f *fakeControl) ForceReconnectAllWS() int {
	f.wsReconnects = len(f.accounts)
	return f.wsReconnects
}

func (f *fakeControl) RestHealth() model.RestHealth {
	return model.RestHealth{Type: "rest_api", TotalConnections: len(f.accounts), ConnectedCount: len(f.accounts)}
}
func (f *fakeControl) WsHealth() model.WsHealth {
	return model.WsHealth{Type: "websocket", TotalConnections: len(f.accounts)}
}

type fakeHistory struct {
	enabled   bool
	snapshots []model.Doc
}

func (f *fakeHistory) Enabled() bool { return f.enabled }
func (f *fakeHistory) Status() sink.Status {
	return sink.Status{Initialized: f.enabled, PersistenceEnabled: f.enabled}
}
func (f *fakeHistory) AccountHistory(_ context.Context, _ int64, limit int) ([]model.Doc, error) {
	if limit < len(f.snapshots) {
		return f.snapshots[:limit], nil
	}
	return f.snapshots, nil
}
func (f *fakeHistory) RecentTrades(_ context.Context, _ int64, _ int) ([]model.Doc, error) {
	return f.snapshots, nil
}

type fixture struct {
	server  *Server
	store   *cache.Store
	control *fakeControl
	history *fakeHistory
	ts      *httptest.Server
}

func newFixture(t *testing.T, rateLimit string) *fixture {
	t.Helper()

	cfg := &config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		RateLimit:    rateLimit,
		PollInterval: 500 * time.Millisecond,
	}
	store := cache.New(5 * time.Second)
	control := &fakeControl{
		accounts: []config.Account{{Name: "Lighter_7_Main", AccountIndex: 7}},
		running:  true,
	}
	history := &fakeHistory{}

	s, err := New(cfg, store, metrics.NewTracker(), errlog.New(100), hub.New(nil),
		control, history, nil)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: s, store: store, control: control, history: history, ts: ts}
}

func get(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func post(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.control.wsConnected = true

	code, body := get(t, f.ts, "/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["accounts_configured"] != 1.0 {
		t.Errorf("accounts_configured = %v", body["accounts_configured"])
	}
	if body["ws_connected"] != true {
		t.Errorf("ws_connected = %v", body["ws_connected"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, "100/minute")

	code, body := get(t, f.ts, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["polling"] != true {
		t.Errorf("polling = %v", body["polling"])
	}
	if body["poll_interval"] != 0.5 {
		t.Errorf("poll_interval = %v", body["poll_interval"])
	}
	if _, ok := body["cache"]; !ok {
		t.Error("cache stats missing")
	}
}

func TestAccountFromCache(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.store.Set("account:7", model.AccountData{AccountIndex: 7, AccountName: "Lighter_7_Main"})

	code, body := get(t, f.ts, "/api/accounts/7")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["source"] != "cache" {
		t.Errorf("source = %v, want cache", body["source"])
	}
}

func TestAccountFreshFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accounts":[{"collateral":"5"}]}`))
	}))
	defer upstream.Close()

	f := newFixture(t, "100/minute")
	creds, err := auth.ParseCredentials(7, 2, "aa", "")
	if err != nil {
		t.Fatal(err)
	}
	f.control.client, err = api.NewClient(upstream.URL, auth.NewMinter(creds), "")
	if err != nil {
		t.Fatal(err)
	}

	code, body := get(t, f.ts, "/api/accounts/7")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["source"] != "fresh" {
		t.Errorf("source = %v, want fresh", body["source"])
	}
}

func TestAccountNotFound(t *testing.T) {
	f := newFixture(t, "100/minute")

	if code, _ := get(t, f.ts, "/api/accounts/999"); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
	if code, _ := get(t, f.ts, "/api/accounts/junk"); code != http.StatusBadRequest {
		t.Errorf("status for non-integer id = %d, want 400", code)
	}
}

func TestWsViewsAndMisses(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.store.SetTTL("ws_orders:7", model.WsOrders{
		Orders:    []any{map[string]any{"order_id": "1"}},
		Timestamp: float64(time.Now().Unix()),
	}, time.Minute)

	code, body := get(t, f.ts, "/api/ws/orders/7")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["orders_count"] != 1.0 {
		t.Errorf("orders_count = %v", body["orders_count"])
	}
	if body["age_seconds"] == nil {
		t.Error("age_seconds missing")
	}

	if code, _ := get(t, f.ts, "/api/ws/orders/8"); code != http.StatusNotFound {
		t.Errorf("miss status = %d, want 404", code)
	}
	if code, _ := get(t, f.ts, "/api/ws/positions/7"); code != http.StatusNotFound {
		t.Errorf("positions miss status = %d, want 404", code)
	}

	code, body = get(t, f.ts, "/api/ws/orders")
	if code != http.StatusOK || body["total_accounts"] != 1.0 {
		t.Errorf("list view = %d %v", code, body["total_accounts"])
	}
}

func TestConnectionsHealthSummary(t *testing.T) {
	f := newFixture(t, "100/minute")

	code, body := get(t, f.ts, "/api/connections/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	summary := body["summary"].(map[string]any)
	// One REST connection up, zero WS connections up.
	if summary["all_healthy"] != false {
		t.Errorf("all_healthy = %v", summary["all_healthy"])
	}
	if summary["rest_connected"] != 1.0 {
		t.Errorf("rest_connected = %v", summary["rest_connected"])
	}
}

func TestReconnectEndpoints(t *testing.T) {
	f := newFixture(t, "100/minute")

	code, body := post(t, f.ts, "/api/rest/reconnect?account_index=7")
	if code != http.StatusOK || body["success"] != true {
		t.Errorf("rest reconnect = %d %v", code, body)
	}

	code, body = post(t, f.ts, "/api/ws/reconnect")
	if code != http.StatusOK || body["reconnected_count"] != 1.0 {
		t.Errorf("ws reconnect all = %d %v", code, body)
	}

	code, body = post(t, f.ts, "/api/connections/reconnect")
	if code != http.StatusOK || body["websocket_reconnected"] != 1.0 || body["rest_reset"] != 1.0 {
		t.Errorf("global reconnect = %d %v", code, body)
	}
}

func TestHistoryRequiresSink(t *testing.T) {
	f := newFixture(t, "100/minute")

	if code, _ := get(t, f.ts, "/api/history/accounts/7"); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with sink disabled", code)
	}

	f.history.enabled = true
	f.history.snapshots = []model.Doc{{"equity": "10"}, {"equity": "11"}}

	code, body := get(t, f.ts, "/api/history/accounts/7?limit=1")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["count"] != 1.0 {
		t.Errorf("count = %v, want limited to 1", body["count"])
	}
}

func TestSinkStatus(t *testing.T) {
	f := newFixture(t, "100/minute")

	code, body := get(t, f.ts, "/api/sink/status")
	if code != http.StatusOK || body["persistence_enabled"] != false {
		t.Errorf("sink status = %d %v", code, body)
	}
}

func TestErrorsEndpointAndClear(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.server.errors.Add(7, "Lighter_7_Main", "timeout", "deadline exceeded", "rest", nil)

	code, body := get(t, f.ts, "/api/errors")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := body["errors"].([]any); len(got) != 1 {
		t.Errorf("errors = %d entries, want 1", len(got))
	}

	if code, _ := post(t, f.ts, "/api/errors/clear"); code != http.StatusOK {
		t.Fatalf("clear status = %d", code)
	}
	_, body = get(t, f.ts, "/api/errors")
	if got := body["errors"].([]any); len(got) != 0 {
		t.Errorf("errors after clear = %d entries, want 0", len(got))
	}
}

func TestRateLimitExceeded(t *testing.T) {
	f := newFixture(t, "2/minute")

	var last int
	for i := 0; i < 3; i++ {
		last, _ = get(t, f.ts, "/api/accounts")
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", last)
	}

	// Unlimited routes keep answering.
	if code, _ := get(t, f.ts, "/health"); code != http.StatusOK {
		t.Errorf("/health = %d, want 200", code)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, "100/minute")
	resp, err := http.Get(f.ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET / = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "100/minute")

	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/accounts", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestWsEndpointSendsInitialData(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.store.Set("account:7", model.AccountData{AccountIndex: 7})

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "initial_data" {
		t.Fatalf("first frame type = %v, want initial_data", frame["type"])
	}
	data := frame["data"].(map[string]any)
	if _, ok := data["account:7"]; !ok {
		t.Error("initial data missing cached account")
	}

	// The attached session receives broadcasts.
	f.server.hub.Broadcast(map[string]any{"type": "lighter_update", "data": map[string]any{}})
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "lighter_update" {
		t.Errorf("broadcast type = %v", frame["type"])
	}
}

func TestLatencyEndpoint(t *testing.T) {
	f := newFixture(t, "100/minute")
	f.store.Set("account:7", model.AccountData{
		AccountIndex: 7,
		LastUpdate:   float64(time.Now().UnixNano()) / 1e9,
	})

	code, body := get(t, f.ts, "/api/latency")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	backend, ok := body["backend_polling"].(map[string]any)
	if !ok {
		t.Fatalf("backend_polling block missing: %v", body)
	}
	if backend["active_accounts"] != 1.0 {
		t.Errorf("active_accounts = %v, want 1", backend["active_accounts"])
	}
	if backend["connected_clients"] != 0.0 {
		t.Errorf("connected_clients = %v, want 0", backend["connected_clients"])
	}
}

func TestAccountsList(t *testing.T) {
	f := newFixture(t, "100/minute")
	for i := int64(1); i <= 3; i++ {
		f.store.Set(fmt.Sprintf("account:%d", i), model.AccountData{AccountIndex: i})
	}

	code, body := get(t, f.ts, "/api/accounts")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := len(body["accounts"].(map[string]any)); got != 3 {
		t.Errorf("accounts = %d, want 3", got)
	}
}
