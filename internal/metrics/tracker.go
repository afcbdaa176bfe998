// Package metrics tracks latency windows and freshness stamps for the
// debug endpoints, and exports Prometheus collectors for operations.
package metrics

import (
	"math"
	"sync"
	"time"
)

// WindowSize is how many samples each latency window retains.
const WindowSize = 30

// Window is a fixed-size sample ring. Not safe for concurrent use on
// its own; Tracker guards access.
type Window struct {
	samples []float64
	head    int
	count   int
}

// NewWindow returns a ring keeping the most recent size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = WindowSize
	}
	return &Window{samples: make([]float64, size)}
}

// Add appends a sample, evicting the oldest when full.
func (w *Window) Add(v float64) {
	if w.count < len(w.samples) {
		w.samples[(w.head+w.count)%len(w.samples)] = v
		w.count++
		return
	}
	w.samples[w.head] = v
	w.head = (w.head + 1) % len(w.samples)
}

// Count reports how many samples are held.
func (w *Window) Count() int { return w.count }

// Min returns the smallest sample, or 0 when empty.
func (w *Window) Min() float64 {
	if w.count == 0 {
		return 0
	}
	m := w.at(0)
	for i := 1; i < w.count; i++ {
		if v := w.at(i); v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest sample, or 0 when empty.
func (w *Window) Max() float64 {
	if w.count == 0 {
		return 0
	}
	m := w.at(0)
	for i := 1; i < w.count; i++ {
		if v := w.at(i); v > m {
			m = v
		}
	}
	return m
}

// Avg returns the mean of the held samples, or 0 when empty.
func (w *Window) Avg() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.at(i)
	}
	return sum / float64(w.count)
}

// Samples returns the held samples oldest first.
func (w *Window) Samples() []float64 {
	out := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.at(i)
	}
	return out
}

func (w *Window) at(i int) float64 {
	return w.samples[(w.head+i)%len(w.samples)]
}

// FrontendPolling describes update cadence as seen by dashboard clients.
type FrontendPolling struct {
	WsIntervalAvg     float64  `json:"ws_interval_avg"`
	TimeSinceWs       *float64 `json:"time_since_ws"`
	RestIntervalAvg   float64  `json:"rest_interval_avg"`
	TimeSinceRest     *float64 `json:"time_since_rest"`
	StatsPollInterval *float64 `json:"stats_poll_interval"`
	StatsFetchTime    float64  `json:"stats_fetch_time"`
}

// BackendPolling describes upstream polling freshness and account counts.
type BackendPolling struct {
	APIPollRate      *float64 `json:"api_poll_rate"`
	PositionsAge     *float64 `json:"positions_age"`
	BalanceAge       *float64 `json:"balance_age"`
	ActiveAccounts   int      `json:"active_accounts"`
	TotalAccounts    int      `json:"total_accounts"`
	ConnectedClients int      `json:"connected_clients"`
}

// WebsocketMetrics describes the upstream websocket feed.
type WebsocketMetrics struct {
	Connected        bool      `json:"connected"`
	MessageCount     int64     `json:"message_count"`
	LastMessageAge   *float64  `json:"last_message_age"`
	ConnectionUptime *float64  `json:"connection_uptime"`
	IntervalMin      float64   `json:"interval_min"`
	IntervalAvg      float64   `json:"interval_avg"`
	IntervalMax      float64   `json:"interval_max"`
	Samples          []float64 `json:"samples"`
}

// RestMetrics describes the upstream REST polling loop.
type RestMetrics struct {
	RequestCount int64     `json:"request_count"`
	LastUpdate   float64   `json:"last_update"`
	IntervalMin  float64   `json:"interval_min"`
	IntervalAvg  float64   `json:"interval_avg"`
	IntervalMax  float64   `json:"interval_max"`
	Samples      []float64 `json:"samples"`
}

// Timestamps carries the raw last-update stamps, nil when never set.
type Timestamps struct {
	Ws    *float64 `json:"ws"`
	Rest  *float64 `json:"rest"`
	Stats *float64 `json:"stats"`
	Now   float64  `json:"now"`
}

// Rollup is the full tracker snapshot served at the latency endpoint.
// Durations are whole milliseconds; ages are nil until first recorded.
type Rollup struct {
	FrontendPolling FrontendPolling  `json:"frontend_polling"`
	BackendPolling  BackendPolling   `json:"backend_polling"`
	Websocket       WebsocketMetrics `json:"websocket"`
	Rest            RestMetrics      `json:"rest"`
	Timestamps      Timestamps       `json:"timestamps"`
}

// Tracker aggregates latency samples and freshness stamps from the
// pollers, the websocket feeds, and the broadcast hub.
type Tracker struct {
	mu sync.RWMutex

	restPolling *Window
	wsMessages  *Window
	statsFetch  *Window

	restRequestCount int64
	wsMessageCount   int64

	wsConnected       bool
	wsLastMessageTime float64
	wsConnectionTime  float64

	lastRestUpdate  float64
	lastWsUpdate    float64
	lastStatsUpdate float64

	positionsLastUpdate float64
	balanceLastUpdate   float64

	activeAccounts   int
	totalAccounts    int
	connectedClients int
}

// NewTracker returns a Tracker with empty windows.
func NewTracker() *Tracker {
	return &Tracker{
		restPolling: NewWindow(WindowSize),
		wsMessages:  NewWindow(WindowSize),
		statsFetch:  NewWindow(WindowSize),
	}
}

// RecordRestPoll records one REST poll cycle duration in milliseconds.
func (t *Tracker) RecordRestPoll(latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restPolling.Add(latencyMS)
	t.restRequestCount++
	t.lastRestUpdate = unixNow()
}

// RecordWsMessage records an inbound websocket frame. intervalMS is the
// gap since the previous frame; zero or negative gaps are counted but
// not sampled.
func (t *Tracker) RecordWsMessage(intervalMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if intervalMS > 0 {
		t.wsMessages.Add(intervalMS)
	}
	t.wsMessageCount++
	now := unixNow()
	t.wsLastMessageTime = now
	t.lastWsUpdate = now
}

// RecordStatsFetch records one stats endpoint render duration in
// milliseconds.
func (t *Tracker) RecordStatsFetch(latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statsFetch.Add(latencyMS)
	t.lastStatsUpdate = unixNow()
}

// SetWsStatus flips the upstream websocket flag. A false-to-true
// transition stamps the connection start.
func (t *Tracker) SetWsStatus(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connected && !t.wsConnected {
		t.wsConnectionTime = unixNow()
	}
	t.wsConnected = connected
}

// MarkPositionsUpdate stamps the last positions refresh.
func (t *Tracker) MarkPositionsUpdate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positionsLastUpdate = unixNow()
}

// MarkBalanceUpdate stamps the last balance refresh.
func (t *Tracker) MarkBalanceUpdate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balanceLastUpdate = unixNow()
}

// SetAccountStats updates the account and client gauges.
func (t *Tracker) SetAccountStats(active, total, clients int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeAccounts = active
	t.totalAccounts = total
	t.connectedClients = clients
}

// Metrics renders the full rollup.
func (t *Tracker) Metrics() Rollup {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := unixNow()
	return Rollup{
		FrontendPolling: FrontendPolling{
			WsIntervalAvg:     math.Round(t.wsMessages.Avg()),
			TimeSinceWs:       msSince(now, t.lastWsUpdate),
			RestIntervalAvg:   math.Round(t.restPolling.Avg()),
			TimeSinceRest:     msSince(now, t.lastRestUpdate),
			StatsPollInterval: msSince(now, t.lastStatsUpdate),
			StatsFetchTime:    math.Round(t.statsFetch.Avg()),
		},
		BackendPolling: BackendPolling{
			APIPollRate:      t.apiPollRateLocked(),
			PositionsAge:     msSince(now, t.positionsLastUpdate),
			BalanceAge:       msSince(now, t.balanceLastUpdate),
			ActiveAccounts:   t.activeAccounts,
			TotalAccounts:    t.totalAccounts,
			ConnectedClients: t.connectedClients,
		},
		Websocket: WebsocketMetrics{
			Connected:        t.wsConnected,
			MessageCount:     t.wsMessageCount,
			LastMessageAge:   msSince(now, t.wsLastMessageTime),
			ConnectionUptime: t.wsUptimeLocked(now),
			IntervalMin:      math.Round(t.wsMessages.Min()),
			IntervalAvg:      math.Round(t.wsMessages.Avg()),
			IntervalMax:      math.Round(t.wsMessages.Max()),
			Samples:          t.wsMessages.Samples(),
		},
		Rest: RestMetrics{
			RequestCount: t.restRequestCount,
			LastUpdate:   t.lastRestUpdate,
			IntervalMin:  math.Round(t.restPolling.Min()),
			IntervalAvg:  math.Round(t.restPolling.Avg()),
			IntervalMax:  math.Round(t.restPolling.Max()),
			Samples:      t.restPolling.Samples(),
		},
		Timestamps: Timestamps{
			Ws:    roundStamp(t.lastWsUpdate),
			Rest:  roundStamp(t.lastRestUpdate),
			Stats: roundStamp(t.lastStatsUpdate),
			Now:   math.Round(now),
		},
	}
}

func (t *Tracker) apiPollRateLocked() *float64 {
	if t.restPolling.Count() == 0 {
		return nil
	}
	v := math.Round(t.restPolling.Avg())
	return &v
}

func (t *Tracker) wsUptimeLocked(now float64) *float64 {
	if !t.wsConnected || t.wsConnectionTime == 0 {
		return nil
	}
	v := math.Round(now - t.wsConnectionTime)
	return &v
}

// msSince returns whole milliseconds elapsed since stamp, or nil when
// the stamp was never set.
func msSince(now, stamp float64) *float64 {
	if stamp == 0 {
		return nil
	}
	v := math.Round((now - stamp) * 1000)
	return &v
}

func roundStamp(stamp float64) *float64 {
	if stamp == 0 {
		return nil
	}
	v := math.Round(stamp)
	return &v
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
