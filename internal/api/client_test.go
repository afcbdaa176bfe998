package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/lighter-data/internal/auth"
	"github.com/rickgao/lighter-data/internal/model"
)

func testMinter(t *testing.T) *auth.Minter {
	t.Helper()
	creds, err := auth.ParseCredentials(7, 2, "deadbeefdeadbeef", "pub")
	if err != nil {
		t.Fatal(err)
	}
	return auth.NewMinter(creds)
}

func TestAccount(t *testing.T) {
	var gotAuth, gotBy, gotValue string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/account" {
			t.Errorf("path = %q, want /api/v1/account", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBy = r.URL.Query().Get("by")
		gotValue = r.URL.Query().Get("value")
		w.Write([]byte(`{"accounts":[{"collateral":"100.5","positions":[]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testMinter(t), "")
	if err != nil {
		t.Fatal(err)
	}

	doc, err := client.Account(context.Background(), 7)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}

	if gotAuth == "" {
		t.Error("request carried no Authorization header")
	}
	if gotBy != "index" || gotValue != "7" {
		t.Errorf("query = by=%q value=%q, want by=index value=7", gotBy, gotValue)
	}

	accounts := model.AsDocs(doc["accounts"])
	if len(accounts) != 1 {
		t.Fatalf("accounts = %v, want one entry", doc["accounts"])
	}
	if model.Num(accounts[0]["collateral"]) != 100.5 {
		t.Errorf("collateral = %v, want 100.5", accounts[0]["collateral"])
	}
}

func TestAccountActiveOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("account_index") != "7" || q.Get("market_id") != "3" {
			t.Errorf("query = %v, want account_index=7 market_id=3", q)
		}
		w.Write([]byte(`{"orders":[{"order_id":"o1"},{"order_id":"o2"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testMinter(t), "")
	if err != nil {
		t.Fatal(err)
	}

	orders, err := client.AccountActiveOrders(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("AccountActiveOrders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len(orders) = %d, want 2", len(orders))
	}
	if model.Str(orders[0]["order_id"]) != "o1" {
		t.Errorf("first order = %v, want o1", orders[0])
	}
}

func TestAPIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testMinter(t), "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Account(context.Background(), 7)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
	if !apiErr.IsRetryable() {
		t.Error("429 should be retryable")
	}
}

func TestKind(t *testing.T) {
	status := func(code int) error { return &APIError{StatusCode: code} }

	tests := []struct {
		name     string
		err      error
		wantKind string
		wantCode int // 0 means nil
	}{
		{"rate limit", status(429), "429", 429},
		{"server error", status(503), "HTTP_503", 503},
		{"not found", status(404), "HTTP_404", 404},
		{"deadline", context.DeadlineExceeded, "timeout", 0},
		{"plain", errors.New("boom"), "exception", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, code := Kind(tt.err)
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if tt.wantCode == 0 && code != nil {
				t.Errorf("code = %v, want nil", *code)
			}
			if tt.wantCode != 0 && (code == nil || *code != tt.wantCode) {
				t.Errorf("code = %v, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestKindTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testMinter(t), "", WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Account(context.Background(), 7)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind, _ := Kind(err); kind != "timeout" {
		t.Errorf("kind = %q, want timeout", kind)
	}
}
