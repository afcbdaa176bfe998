package metrics

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestWindowEviction(t *testing.T) {
	w := NewWindow(30)
	for i := 1; i <= 35; i++ {
		w.Add(float64(i))
	}

	if got := w.Count(); got != 30 {
		t.Fatalf("Count = %d, want 30", got)
	}
	// Samples 1..5 were evicted.
	if got := w.Min(); got != 6 {
		t.Errorf("Min = %v, want 6", got)
	}
	if got := w.Max(); got != 35 {
		t.Errorf("Max = %v, want 35", got)
	}
	if got := w.Avg(); got != 20.5 {
		t.Errorf("Avg = %v, want 20.5", got)
	}

	s := w.Samples()
	if len(s) != 30 || s[0] != 6 || s[29] != 35 {
		t.Errorf("Samples = len %d first %v last %v, want 30/6/35", len(s), s[0], s[len(s)-1])
	}
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(30)
	if w.Min() != 0 || w.Max() != 0 || w.Avg() != 0 {
		t.Errorf("empty window min/max/avg = %v/%v/%v, want zeros", w.Min(), w.Max(), w.Avg())
	}
	if got := len(w.Samples()); got != 0 {
		t.Errorf("Samples length = %d, want 0", got)
	}
}

func TestFreshTrackerHasNullAges(t *testing.T) {
	tr := NewTracker()
	m := tr.Metrics()

	if m.FrontendPolling.TimeSinceWs != nil {
		t.Errorf("TimeSinceWs = %v, want nil", *m.FrontendPolling.TimeSinceWs)
	}
	if m.FrontendPolling.TimeSinceRest != nil {
		t.Errorf("TimeSinceRest = %v, want nil", *m.FrontendPolling.TimeSinceRest)
	}
	if m.BackendPolling.APIPollRate != nil {
		t.Errorf("APIPollRate = %v, want nil", *m.BackendPolling.APIPollRate)
	}
	if m.Websocket.LastMessageAge != nil {
		t.Errorf("LastMessageAge = %v, want nil", *m.Websocket.LastMessageAge)
	}
	if m.Websocket.ConnectionUptime != nil {
		t.Errorf("ConnectionUptime = %v, want nil", *m.Websocket.ConnectionUptime)
	}
	if m.Timestamps.Ws != nil || m.Timestamps.Rest != nil || m.Timestamps.Stats != nil {
		t.Error("fresh timestamps should all be nil")
	}
	if m.Rest.LastUpdate != 0 {
		t.Errorf("Rest.LastUpdate = %v, want 0", m.Rest.LastUpdate)
	}
	if m.Timestamps.Now == 0 {
		t.Error("Timestamps.Now should be set")
	}
}

func TestRecordRestPoll(t *testing.T) {
	tr := NewTracker()
	tr.RecordRestPoll(100)
	tr.RecordRestPoll(200)

	m := tr.Metrics()
	if m.Rest.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", m.Rest.RequestCount)
	}
	if m.Rest.IntervalAvg != 150 {
		t.Errorf("IntervalAvg = %v, want 150", m.Rest.IntervalAvg)
	}
	if m.BackendPolling.APIPollRate == nil || *m.BackendPolling.APIPollRate != 150 {
		t.Errorf("APIPollRate = %v, want 150", m.BackendPolling.APIPollRate)
	}
	if m.FrontendPolling.TimeSinceRest == nil || *m.FrontendPolling.TimeSinceRest < 0 {
		t.Errorf("TimeSinceRest = %v, want >= 0", m.FrontendPolling.TimeSinceRest)
	}
	if m.Timestamps.Rest == nil {
		t.Error("Timestamps.Rest should be set after a poll")
	}
	if m.Rest.LastUpdate == 0 {
		t.Error("Rest.LastUpdate should be set after a poll")
	}
}

func TestRecordWsMessageSkipsNonPositiveGaps(t *testing.T) {
	tr := NewTracker()
	tr.RecordWsMessage(0)
	tr.RecordWsMessage(40)

	m := tr.Metrics()
	if m.Websocket.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", m.Websocket.MessageCount)
	}
	if got := len(m.Websocket.Samples); got != 1 {
		t.Fatalf("samples length = %d, want 1", got)
	}
	if m.Websocket.IntervalAvg != 40 {
		t.Errorf("IntervalAvg = %v, want 40", m.Websocket.IntervalAvg)
	}
	if m.Websocket.LastMessageAge == nil {
		t.Error("LastMessageAge should be set after a message")
	}
}

func TestWsStatusUptime(t *testing.T) {
	tr := NewTracker()
	tr.SetWsStatus(true)

	m := tr.Metrics()
	if !m.Websocket.Connected {
		t.Fatal("Connected = false, want true")
	}
	if m.Websocket.ConnectionUptime == nil || *m.Websocket.ConnectionUptime < 0 {
		t.Errorf("ConnectionUptime = %v, want >= 0", m.Websocket.ConnectionUptime)
	}

	tr.SetWsStatus(false)
	m = tr.Metrics()
	if m.Websocket.Connected {
		t.Error("Connected = true after disconnect, want false")
	}
	if m.Websocket.ConnectionUptime != nil {
		t.Errorf("ConnectionUptime = %v after disconnect, want nil", *m.Websocket.ConnectionUptime)
	}
}

func TestSetAccountStats(t *testing.T) {
	tr := NewTracker()
	tr.SetAccountStats(3, 5, 2)

	m := tr.Metrics()
	if m.BackendPolling.ActiveAccounts != 3 || m.BackendPolling.TotalAccounts != 5 || m.BackendPolling.ConnectedClients != 2 {
		t.Errorf("accounts = %d/%d/%d, want 3/5/2",
			m.BackendPolling.ActiveAccounts, m.BackendPolling.TotalAccounts, m.BackendPolling.ConnectedClients)
	}
}

func TestRollupJSONShape(t *testing.T) {
	tr := NewTracker()
	tr.RecordStatsFetch(12)

	b, err := json.Marshal(tr.Metrics())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)

	for _, key := range []string{
		`"frontend_polling"`, `"backend_polling"`, `"websocket"`, `"rest"`, `"timestamps"`,
		`"stats_fetch_time":12`, `"time_since_ws":null`, `"api_poll_rate":null`,
	} {
		if !strings.Contains(s, key) {
			t.Errorf("rollup JSON missing %s", key)
		}
	}
	// Empty sample windows render as arrays, not null.
	if strings.Contains(s, `"samples":null`) {
		t.Error("samples should marshal as [] when empty")
	}
}
