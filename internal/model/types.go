package model

// Doc is an upstream JSON object kept verbatim. Consumers extract the few
// fields they depend on and pass the rest through untouched.
type Doc = map[string]any

// -----------------------------------------------------------------------------
// Cache Values
// -----------------------------------------------------------------------------

// AccountData is the REST view of one account, cached under "account:<index>".
type AccountData struct {
	AccountIndex int64   `json:"account_index"`
	AccountName  string  `json:"account_name"`
	RawData      Doc     `json:"raw_data"`      // exchange response, verbatim
	ActiveOrders []Doc   `json:"active_orders"` // concatenated per-market order fetches
	LastUpdate   float64 `json:"last_update"`   // Unix seconds
}

// WsOrders is the last account_all_orders frame, cached under
// "ws_orders:<index>". Orders keeps whatever shape the frame carried
// (flat list or market-keyed map).
type WsOrders struct {
	Orders    any     `json:"orders"`
	Timestamp float64 `json:"timestamp"`
}

// WsPositions is the last account_all_positions frame, cached under
// "ws_positions:<index>".
type WsPositions struct {
	Positions []any   `json:"positions"`
	Timestamp float64 `json:"timestamp"`
}

// Volumes carries the rolling volume figures a trades frame reports.
// Fields stay untyped so absent figures marshal as null.
type Volumes struct {
	TotalVolume   any `json:"total_volume"`
	MonthlyVolume any `json:"monthly_volume"`
	WeeklyVolume  any `json:"weekly_volume"`
	DailyVolume   any `json:"daily_volume"`
}

// WsTrades is the merged trade history, cached under "ws_trades:<index>".
// Trades maps market id to its retained trade list, oldest first.
// Each bucket holds at most 500 trades, unique by identity key.
type WsTrades struct {
	Trades    map[string][]Doc `json:"trades"`
	Volumes   Volumes          `json:"volumes"`
	Timestamp float64          `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Connection Health
// -----------------------------------------------------------------------------

// RestConnHealth describes one account's REST connection state.
type RestConnHealth struct {
	AccountID           int64   `json:"account_id"`
	AccountName         string  `json:"account_name"`
	Connected           bool    `json:"connected"`
	LastSuccessAge      float64 `json:"last_success_age"` // -1 until first success
	LastFailureAge      float64 `json:"last_failure_age"` // -1 until first failure
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	SuccessRate         float64 `json:"success_rate"` // percent, 100 before first request
	RetryPhase          int     `json:"retry_phase"`
	PhaseAttempts       int     `json:"phase_attempts"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	LastError           string  `json:"last_error"` // truncated to 100 chars
	RequestsPerMinute   int     `json:"requests_per_minute"`
}

// RestHealth is the rollup across all REST connections.
type RestHealth struct {
	Type              string           `json:"type"` // always "rest_api"
	TotalConnections  int              `json:"total_connections"`
	ConnectedCount    int              `json:"connected_count"`
	DisconnectedCount int              `json:"disconnected_count"`
	TotalRequests     int64            `json:"total_requests"`
	TotalFailures     int64            `json:"total_failures"`
	SuccessRate       float64          `json:"success_rate"`
	UptimeSeconds     float64          `json:"uptime_seconds"`
	Polling           bool             `json:"polling"`
	PollInterval      float64          `json:"poll_interval"` // seconds
	Connections       []RestConnHealth `json:"connections"`
}

// WsConnHealth describes one account's WebSocket connection state.
type WsConnHealth struct {
	AccountID             int64   `json:"account_id"`
	AccountName           string  `json:"account_name"`
	Connected             bool    `json:"connected"`
	LastMessageAge        float64 `json:"last_message_age"` // -1 until first frame
	LastPongAge           float64 `json:"last_pong_age"`    // -1 until first pong
	ReconnectCount        int64   `json:"reconnect_count"`
	TotalMessages         int64   `json:"total_messages"`
	HasProxy              bool    `json:"has_proxy"`
	RetryPhase            int     `json:"retry_phase"`
	PhaseAttempts         int     `json:"phase_attempts"`
	UptimeSeconds         float64 `json:"uptime_seconds"` // 0 while disconnected
	LastSuccessfulConnect float64 `json:"last_successful_connect"`
}

// WsHealth is the rollup across all WebSocket connections.
type WsHealth struct {
	Type                   string         `json:"type"` // always "websocket"
	TotalConnections       int            `json:"total_connections"`
	ConnectedCount         int            `json:"connected_count"`
	DisconnectedCount      int            `json:"disconnected_count"`
	TotalMessagesReceived  int64          `json:"total_messages_received"`
	TotalReconnectAttempts int64          `json:"total_reconnect_attempts"`
	UptimeSeconds          float64        `json:"uptime_seconds"`
	Connections            []WsConnHealth `json:"connections"`
}
